package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/vcsws/internal/broker"
	"github.com/openmined/vcsws/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:     "vcsws-server",
	Short:   "vcsws broker for sync and subscribe rounds",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		s, err := broker.New(config)
		if err != nil {
			return err
		}
		defer slog.Info("Bye!")
		return s.Start(cmd.Context())
	},
}

func init() {
	d := broker.DefaultConfig()
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", d.Addr, "Address to bind the broker")
	rootCmd.Flags().Duration("ping-interval", d.PingInterval, "Keepalive ping interval per subscriber")
	rootCmd.Flags().Duration("timeout", d.RecvTimeout, "Receive timeout for every protocol step")
	rootCmd.Flags().Duration("collect-timeout", d.CollectTimeout, "Wait for subscriber request lists, below --timeout")
	rootCmd.Flags().Int64("max-file-size", d.MaxFileSize, "Largest file body relayed, in bytes")
	rootCmd.Flags().String("rate-limit", d.RateLimit, "Websocket upgrades allowed per client IP, e.g. 600-M")
	rootCmd.Flags().String("history-db", "", "Sqlite file for round history, in memory when empty")
	rootCmd.Flags().String("env-file", ".env", "Optional env file")
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*broker.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("env file %s: %w", envFile, err)
	}

	// Bind flags to viper
	viper.BindPFlag("addr", cmd.Flags().Lookup("bind"))
	viper.BindPFlag("ping_interval", cmd.Flags().Lookup("ping-interval"))
	viper.BindPFlag("recv_timeout", cmd.Flags().Lookup("timeout"))
	viper.BindPFlag("collect_timeout", cmd.Flags().Lookup("collect-timeout"))
	viper.BindPFlag("max_file_size", cmd.Flags().Lookup("max-file-size"))
	viper.BindPFlag("rate_limit", cmd.Flags().Lookup("rate-limit"))
	viper.BindPFlag("history_db", cmd.Flags().Lookup("history-db"))

	// Set up environment variables
	viper.SetEnvPrefix("VCSWS")
	viper.AutomaticEnv()

	config := &broker.Config{
		Addr:           viper.GetString("addr"),
		PingInterval:   viper.GetDuration("ping_interval"),
		RecvTimeout:    viper.GetDuration("recv_timeout"),
		CollectTimeout: viper.GetDuration("collect_timeout"),
		MaxFileSize:    viper.GetInt64("max_file_size"),
		RateLimit:      viper.GetString("rate_limit"),
		HistoryPath:    viper.GetString("history_db"),
	}
	if config.Addr == "" {
		return nil, errors.New("bind address missing")
	}
	return config, nil
}
