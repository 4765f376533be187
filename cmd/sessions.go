// file: cmd/sessions.go
// version: 1.0.0
// guid: 8c0e2b4d-6f8a-4c0e-b2d4-6f8a8c0e2b4d

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type sessionEntry struct {
	Name         string `yaml:"name"`
	DisplayName  string `yaml:"display_name"`
	Year         int    `yaml:"year"`
	Manifest     string `yaml:"manifest,omitempty"`
	ChunkPrefix  string `yaml:"chunk_prefix,omitempty"`
	Dataset      string `yaml:"dataset,omitempty"`
	Current      bool   `yaml:"current"`
	CachedChunks int    `yaml:"cached_chunks"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the configured exam sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(config.AppConfig)
		if err != nil {
			return err
		}
		defer st.Close()
		return runSessions(cmd.OutOrStdout(), st)
	},
}

var preloadCmd = &cobra.Command{
	Use:   "preload <session>",
	Short: "Fetch and validate a session manifest ahead of use",
	Long: `Preload fetches the manifest of a session so that a misconfigured or
unreachable dataset is reported before the first lookup. With --index the
full dataset is loaded and the name search index is built as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetBool("index")

		st, err := buildStack(config.AppConfig)
		if err != nil {
			return err
		}
		defer st.Close()
		return runPreload(cmd.Context(), cmd.OutOrStdout(), st, args[0], index)
	},
}

func init() {
	preloadCmd.Flags().Bool("index", false, "also load the full dataset and build the search index")
}

func runSessions(out io.Writer, st *stack) error {
	current := st.coord.CurrentSession()
	var entries []sessionEntry
	for _, s := range st.coord.Sessions() {
		e := sessionEntry{
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Year:        s.Year,
			Manifest:    s.ManifestPath,
			ChunkPrefix: s.ChunkPrefix,
			Dataset:     s.DatasetPath,
			Current:     s.Name == current,
		}
		if l, err := st.coord.Loader(s.Name); err == nil {
			e.CachedChunks = len(l.CachedChunks())
		}
		entries = append(entries, e)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]any{"sessions": entries})
}

func runPreload(ctx context.Context, out io.Writer, st *stack, session string, index bool) error {
	l, err := st.coord.Loader(session)
	if err != nil {
		return userError(err)
	}
	start := time.Now()
	m, err := l.LoadManifest(ctx)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(out, "Session %s: %d chunks, %d records\n", session, len(m.Chunks), m.Metadata.TotalRecords)

	if index {
		ix, err := st.provider.Index(ctx, session)
		if err != nil {
			return userError(err)
		}
		fmt.Fprintf(out, "Indexed %d names\n", ix.Len())
	}
	fmt.Fprintf(out, "Preloaded in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}
