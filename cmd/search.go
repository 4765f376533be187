// file: cmd/search.go
// version: 1.1.0
// guid: 6a8c0e2b-4d6f-4a8c-0e2b-4d6f6a8c0e2b

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/livesearch"
	"github.com/jdfalk/exam-results/internal/search"
	"github.com/spf13/cobra"
)

// searchCmd ranks candidates by name
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search candidates by name in Arabic or French",
	Long: `Search ranks candidates of the current session by name similarity.
With --interactive, queries are read line by line from stdin and answered
through the debounced live search layer; superseded queries are dropped.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interactive, _ := cmd.Flags().GetBool("interactive")
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		st, err := buildStack(config.AppConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		if interactive {
			return runInteractiveSearch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), st)
		}
		if len(args) == 0 {
			return fmt.Errorf("a query is required unless --interactive is set")
		}
		opts := st.live.Options()
		if limit > 0 {
			opts.Limit = limit
		}
		if cmd.Flags().Changed("threshold") {
			opts.Threshold = livesearch.Threshold(threshold)
		}
		return runSearch(cmd.Context(), cmd.OutOrStdout(), st, strings.Join(args, " "), opts.Limit, opts.MaxScore())
	},
}

func init() {
	searchCmd.Flags().BoolP("interactive", "i", false, "read queries from stdin as they are typed")
	searchCmd.Flags().IntP("limit", "n", 0, "maximum number of results (default from config)")
	searchCmd.Flags().Float64("threshold", 0, "maximum score of a result, 0..1 (default from config)")
}

func runSearch(ctx context.Context, out io.Writer, st *stack, query string, limit int, threshold float64) error {
	if !search.Searchable(query) {
		return fmt.Errorf("query %q is too short, type at least %d characters", query, search.MinQueryLength)
	}
	start := time.Now()
	results, _, err := st.live.SearchWith(ctx, query, limit, threshold)
	if err != nil {
		return userError(err)
	}
	printResults(out, results)
	fmt.Fprintf(out, "%d result(s) in %v from session %s\n", len(results), time.Since(start).Round(time.Microsecond), st.coord.CurrentSession())
	return nil
}

// runInteractiveSearch feeds every input line to the debounced searcher
// and prints results that are still current when they arrive.
func runInteractiveSearch(ctx context.Context, in io.Reader, out io.Writer, st *stack) error {
	var mu sync.Mutex
	printed := make(chan uint64)
	st.live.OnResult(func(resp livesearch.Response) {
		mu.Lock()
		fmt.Fprintf(out, "> %s\n", resp.Query)
		if resp.Err != nil {
			fmt.Fprintf(out, "error: %v\n", userError(resp.Err))
		} else {
			printResults(out, resp.Results)
		}
		mu.Unlock()
		select {
		case printed <- resp.Seq:
		case <-ctx.Done():
		}
	})
	defer st.live.OnResult(nil)

	submitted := 0
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		st.live.SearchDebounced(ctx, query)
		submitted++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read queries: %w", err)
	}

	for submitted > 0 {
		select {
		case seq := <-printed:
			if last := st.live.Last(); !st.live.IsSearching() && last != nil && last.Seq == seq {
				submitted = 0
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stats := st.live.Stats()
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "searches: %d, cache hits: %d, average: %v\n", stats.Searches, stats.CacheHits, stats.AverageDuration)
	return nil
}

func printResults(out io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(out, "(no results)")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tID\tNAME\tNOM\tDECISION")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%.3f\t%d\t%s\t%s\t%s\n", r.Rank, r.Score, r.Record.ID,
			formatValue(r.Record.NameAr), formatValue(r.Record.NameFr), formatValue(r.Record.Decision))
	}
	_ = tw.Flush()
}
