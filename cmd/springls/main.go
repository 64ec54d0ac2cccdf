package main

import (
	"fmt"
	"os"
	"runtime"

	"springls/internal/config"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Version is set during the build process using ldflags.
var Version = "(dev) v0.0.0"

var (
	configPath  string
	logFile     string
	verbosity   int
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "springls",
		Short: "Language server for Spring Boot projects",
		Long: `springls serves the language server protocol on stdin/stdout. It keeps
a live model of the workspace projects and their architecture modules.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var path *string
			if logFile != "" {
				path = &logFile
			}
			commonlog.Configure(verbosity, path)
			return nil
		},
		RunE: runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "springls version %s\n", Version)
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.StringVar(&logFile, "logfile", "/tmp/springls.log", "log file, empty for stderr")
	flags.IntVarP(&verbosity, "verbosity", "v", 1, "log verbosity")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(exportCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	runtime.GOMAXPROCS(4)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
