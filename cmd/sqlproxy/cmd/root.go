package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	debug   bool

	// Version info (set at build time)
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sqlproxy",
	Short: "Intercepting proxy for SQL wire protocols",
	Long: `sqlproxy sits between database clients and a MariaDB or PostgreSQL
server, reassembling wire protocol frames and passing each one through
a pluggable packet handler before forwarding it. TLS upgrade probes
are declined on behalf of the backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
