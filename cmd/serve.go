// file: cmd/serve.go
// version: 1.1.0
// guid: 1f3a5c7e-9b1d-4f3a-a5c7-e9b1d1f3a5c7

package cmd

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/operations"
	"github.com/jdfalk/exam-results/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the results HTTP API",
	Long: `Serve exposes lookups, name search and session management over a JSON
HTTP API, with Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.AppConfig
		st, err := buildStack(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.WatchDataDir {
			if cfg.DataDir == "" {
				log.Printf("[WARN] watch_data_dir is set but no data_dir is configured")
			} else if err := st.watch(cfg.DataDir, 0); err != nil {
				return err
			}
		}

		srvCfg := server.GetDefaultServerConfig()
		srvCfg.Host = cfg.Host
		srvCfg.Port = strconv.Itoa(cfg.Port)
		if cfg.ShutdownGrace > 0 {
			srvCfg.ShutdownGrace = cfg.ShutdownGrace
		}
		if rt, _ := cmd.Flags().GetDuration("read-timeout"); rt > 0 {
			srvCfg.ReadTimeout = rt
		}
		if wt, _ := cmd.Flags().GetDuration("write-timeout"); wt > 0 {
			srvCfg.WriteTimeout = wt
		}

		if cfg.Preload {
			go st.coord.Preload(cmd.Context(), "")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d sessions (current %s) on %s:%s\n",
			len(cfg.Sessions), st.coord.CurrentSession(), srvCfg.Host, srvCfg.Port)
		ops := operations.NewOperationQueue(cfg.Workers, st.hub)
		defer func() {
			if err := ops.Shutdown(srvCfg.ShutdownGrace); err != nil {
				log.Printf("[WARN] %v", err)
			}
		}()
		return server.NewServer(st.coord, st.provider, st.live, ops, st.hub).Start(cmd.Context(), srvCfg)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "host to bind the server to (default from config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default from config)")
	serveCmd.Flags().Bool("watch", false, "reload sessions when files below data_dir change")
	serveCmd.Flags().Bool("preload", false, "warm the current session manifest at startup")
	serveCmd.Flags().Int("workers", 0, "background operation workers (default from config)")
	serveCmd.Flags().Duration("read-timeout", 15*time.Second, "read timeout")
	serveCmd.Flags().Duration("write-timeout", 30*time.Second, "write timeout")

	_ = viper.BindPFlag("host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("watch_data_dir", serveCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("preload", serveCmd.Flags().Lookup("preload"))
	_ = viper.BindPFlag("workers", serveCmd.Flags().Lookup("workers"))
}
