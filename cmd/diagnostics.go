// file: cmd/diagnostics.go
// version: 2.0.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/diskcache"
	"github.com/spf13/cobra"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Debugging and cleanup helpers",
		Long:  "Diagnostic utilities for inspecting and purging the persistent resource cache.",
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "List resources stored in the disk cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			prefix, _ := cmd.Flags().GetString("prefix")
			return runDiagnosticsCache(cmd.OutOrStdout(), config.AppConfig.DiskCachePath, prefix, limit)
		},
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Remove resources from the disk cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			force, _ := cmd.Flags().GetBool("yes")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return runDiagnosticsPurge(cmd.InOrStdin(), cmd.OutOrStdout(), config.AppConfig.DiskCachePath, prefix, force, dryRun)
		},
	}
)

func init() {
	cacheCmd.Flags().Int("limit", 20, "Number of entries to display")
	cacheCmd.Flags().String("prefix", "", "Only show resources whose name starts with this prefix")

	purgeCmd.Flags().String("prefix", "", "Only remove resources whose name starts with this prefix")
	purgeCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	purgeCmd.Flags().Bool("dry-run", false, "List matching resources without deleting")

	diagnosticsCmd.AddCommand(cacheCmd)
	diagnosticsCmd.AddCommand(purgeCmd)
}

func openDiagnosticsCache(path string) (*diskcache.Cache, error) {
	if path == "" {
		return nil, errors.New("no disk cache configured: set disk_cache_path")
	}
	return diskcache.Open(path, nil, config.AppConfig.DiskCacheTTL)
}

func runDiagnosticsCache(out io.Writer, path, prefix string, limit int) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	c, err := openDiagnosticsCache(path)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Entries(prefix, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No resources matched the requested prefix.")
		return nil
	}
	printEntries(out, entries)
	return nil
}

func runDiagnosticsPurge(in io.Reader, out io.Writer, path, prefix string, force, dryRun bool) error {
	c, err := openDiagnosticsCache(path)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Entries(prefix, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "Nothing to purge.")
		return nil
	}

	if dryRun {
		printEntries(out, entries)
		fmt.Fprintf(out, "Dry run: %d resources would be removed.\n", len(entries))
		return nil
	}

	if !force {
		confirmed, err := promptYesNo(in, out, fmt.Sprintf("Remove %d cached resources", len(entries)))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := c.InvalidatePrefix(prefix); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	fmt.Fprintf(out, "Removed %d cached resources.\n", len(entries))
	return nil
}

func printEntries(out io.Writer, entries []diskcache.Entry) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSTORED\tSTATE")
	for _, e := range entries {
		state := "fresh"
		if e.Expired {
			state = "expired"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", truncateString(e.Name, 60), e.Size,
			e.StoredAt.Local().Format(time.DateTime), state)
	}
	_ = tw.Flush()
}

func promptYesNo(in io.Reader, out io.Writer, action string) (bool, error) {
	fmt.Fprintf(out, "%s? Type 'yes' to confirm: ", action)
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes", nil
}

func truncateString(in string, max int) string {
	if len(in) <= max {
		return in
	}
	return in[:max] + "..."
}
