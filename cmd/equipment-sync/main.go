package main

import (
	"errors"
	"os"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "equipment-sync",
		Short:         "Offline equipment inventory client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSyncCommand(),
		newWatchCommand(),
		newStatusCommand(),
		newListCommand(),
		newAddCommand(),
		newUpdateCommand(),
		newRemoveCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyClientDefaults(viper.GetViper())
	defaults := config.NewClientViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.url"), "Authority base URL")
	cmd.PersistentFlags().String("remote-token", "", "Operator token (overrides env)")
	cmd.PersistentFlags().Int("remote-timeout-seconds", defaults.GetInt("remote.timeout_seconds"), "Per-request timeout in seconds")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "Local SQLite database path")
	cmd.PersistentFlags().String("sync-order", defaults.GetString("sync.order"), "Cycle order (push-pull, pull-push)")
	cmd.PersistentFlags().Int("chunk-size", defaults.GetInt("sync.chunk_size"), "Maximum items per push request (0 sends everything at once)")
	cmd.PersistentFlags().Int("interval-seconds", defaults.GetInt("sync.interval_seconds"), "Seconds between periodic cycles in watch mode")
	cmd.PersistentFlags().Int("max-attempts", defaults.GetInt("sync.max_attempts"), "Attempts per scheduled cycle")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotated log file")

	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "remote.token", "remote-token")
	bindFlag(cmd, "remote.timeout_seconds", "remote-timeout-seconds")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "sync.order", "sync-order")
	bindFlag(cmd, "sync.chunk_size", "chunk-size")
	bindFlag(cmd, "sync.interval_seconds", "interval-seconds")
	bindFlag(cmd, "sync.max_attempts", "max-attempts")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
