// file: cmd/split.go
// version: 1.0.0
// guid: 0e2b4d6f-8a0c-4e2b-b4d6-8a0c0e2b4d6f

package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/jdfalk/exam-results/internal/chunker"
	"github.com/jdfalk/exam-results/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var splitCmd = &cobra.Command{
	Use:   "split <dataset.json> <outdir>",
	Short: "Partition a full dataset into chunk files and a manifest",
	Long: `Split orders the records of a dataset by identifier, writes them as
fixed-size chunk files plus an index.json manifest into outdir, and checks
that every identifier is covered by exactly one chunk. The directory name
becomes the session name unless --session is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("chunk-size")
		session, _ := cmd.Flags().GetString("session")
		year, _ := cmd.Flags().GetInt("year")
		return runSplit(cmd.OutOrStdout(), args[0], args[1], chunker.Options{
			ChunkSize: size,
			Session:   session,
			Year:      year,
		})
	},
}

func init() {
	splitCmd.Flags().Int("chunk-size", chunker.DefaultChunkSize, "records per chunk")
	splitCmd.Flags().String("session", "", "session name recorded in the manifest (default: outdir name)")
	splitCmd.Flags().Int("year", 0, "exam year recorded in the manifest")
}

type splitSummary struct {
	Records int            `yaml:"records"`
	Chunks  int            `yaml:"chunks"`
	Output  string         `yaml:"output"`
	Version string         `yaml:"version"`
	SHA256  string         `yaml:"manifest_sha256"`
	Session config.Session `yaml:"session"`
}

func runSplit(out io.Writer, input, outDir string, opts chunker.Options) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	base := filepath.Base(filepath.Clean(outDir))
	if opts.Session == "" {
		opts.Session = base
	}

	plan, err := chunker.Split(data, opts)
	if err != nil {
		return fmt.Errorf("failed to split %s: %w", input, err)
	}
	if err := chunker.VerifyCoverage(&plan.Manifest, plan.IDs); err != nil {
		return fmt.Errorf("chunk plan is inconsistent: %w", err)
	}
	if err := plan.WriteDir(outDir); err != nil {
		return err
	}

	summary := splitSummary{
		Records: len(plan.IDs),
		Chunks:  len(plan.Files),
		Output:  outDir,
		Version: plan.Manifest.Metadata.Version,
		SHA256:  plan.Checksums[chunker.ManifestName],
		Session: config.Session{
			Name:        opts.Session,
			DisplayName: opts.Session,
			Year:        opts.Year,
			Manifest:    path.Join(base, chunker.ManifestName),
			ChunkPrefix: base,
		},
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(summary)
}
