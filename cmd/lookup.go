// file: cmd/lookup.go
// version: 1.0.0
// guid: 4f6a8c0e-2b4d-4f6a-8c0e-2b4d4f6a8c0e

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/lookup"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// lookupCmd resolves one candidate by identifier
var lookupCmd = &cobra.Command{
	Use:   "lookup <id>",
	Short: "Look up a candidate result by identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		output, _ := cmd.Flags().GetString("output")
		quiet, _ := cmd.Flags().GetBool("quiet")

		st, err := buildStack(config.AppConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		progress := cmd.ErrOrStderr()
		if quiet || !isTerminal(progress) {
			progress = io.Discard
		}
		return runLookup(cmd.Context(), cmd.OutOrStdout(), progress, st, args[0], config.AppConfig.DefaultSession, all, output)
	},
}

func init() {
	lookupCmd.Flags().Bool("all", false, "search every session instead of one")
	lookupCmd.Flags().StringP("output", "o", "text", "output format: text or json")
	lookupCmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")
}

func runLookup(ctx context.Context, out, progress io.Writer, st *stack, rawID, session string, all bool, output string) error {
	if _, ok := lookup.ParseID(rawID); !ok {
		return fmt.Errorf("invalid identifier %q: expected a positive number", rawID)
	}

	if all {
		records, err := st.coord.FindInAllSessions(ctx, rawID)
		if err != nil {
			return userError(err)
		}
		if len(records) == 0 {
			fmt.Fprintf(out, "No result found for %s in any session.\n", rawID)
			return nil
		}
		return printRecords(out, records, output)
	}

	bar := progressbar.NewOptions(lookup.ProgressDone,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("Looking up "+rawID),
		progressbar.OptionClearOnFinish(),
	)
	rec, err := st.coord.FindInSession(ctx, rawID, session, func(p int) {
		_ = bar.Set(p)
	})
	_ = bar.Finish()
	if err != nil {
		return userError(err)
	}
	if rec == nil {
		name := session
		if name == "" {
			name = st.coord.CurrentSession()
		}
		fmt.Fprintf(out, "No result found for %s in session %s.\n", rawID, name)
		return nil
	}
	return printRecords(out, []*models.Record{rec}, output)
}

func printRecords(w io.Writer, records []*models.Record, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(records) == 1 {
			return enc.Encode(records[0])
		}
		return enc.Encode(records)
	case "text", "":
		for i, rec := range records {
			if i > 0 {
				fmt.Fprintln(w, "---")
			}
			printRecord(w, rec)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printRecord(w io.Writer, rec *models.Record) {
	fmt.Fprintf(w, "ID:       %d\n", rec.ID)
	fmt.Fprintf(w, "Name:     %s\n", formatValue(rec.NameAr))
	fmt.Fprintf(w, "Nom:      %s\n", formatValue(rec.NameFr))
	fmt.Fprintf(w, "Series:   %s\n", formatValue(rec.Series))
	fmt.Fprintf(w, "Decision: %s\n", formatValue(rec.Decision))
	fmt.Fprintf(w, "Average:  %.2f\n", rec.Average)
	if rec.Wilaya != "" {
		fmt.Fprintf(w, "Wilaya:   %s\n", rec.Wilaya)
	}
	if rec.School != "" {
		fmt.Fprintf(w, "School:   %s\n", rec.School)
	}
	if rec.Center != "" {
		fmt.Fprintf(w, "Center:   %s\n", rec.Center)
	}
	if rec.Session != nil {
		fmt.Fprintf(w, "Session:  %s (%d)\n", rec.Session.DisplayName, rec.Session.Year)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func formatValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}
