// file: cmd/root.go
// version: 2.0.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exam-results",
	Short: "Look up and search national exam results",
	Long: `exam-results resolves candidate records by identifier from chunked,
statically hosted JSON datasets and searches candidate names in Arabic and
French across the configured exam sessions.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.exam-results.yaml)")
	rootCmd.PersistentFlags().String("data-url", "", "base URL of the published dataset")
	rootCmd.PersistentFlags().String("data-dir", "", "local directory holding the dataset (overrides --data-url)")
	rootCmd.PersistentFlags().String("session", "", "session to use (default from config)")
	rootCmd.PersistentFlags().String("lang", "", "language of user-facing messages: ar, fr or en")

	_ = viper.BindPFlag("data_url", rootCmd.PersistentFlags().Lookup("data-url"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("default_session", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("lang"))

	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".exam-results")
	}

	viper.SetEnvPrefix("EXAM_RESULTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("[INFO] Using config file: %s", viper.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Printf("[WARN] could not read config: %v", err)
		}
	}

	config.InitConfig()
	server.Version = Version
}

// userError turns a data access failure into the message shown to the
// user, keeping the technical chain only when error details are enabled.
func userError(err error) error {
	if err == nil || config.AppConfig.ShowErrorDetails {
		return err
	}
	var de *dataerr.Error
	if !errors.As(err, &de) {
		return err
	}
	return errors.New(dataerr.UserMessage(err, dataerr.MatchLanguage(config.AppConfig.Language)))
}
