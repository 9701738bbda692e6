package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/vcsws/internal/deploy"
	"github.com/openmined/vcsws/internal/version"
	"github.com/openmined/vcsws/internal/wsproto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultBrokerURL = "ws://127.0.0.1:8770/ws"
	wsPath           = "/ws"
)

var (
	logLevel      = new(slog.LevelVar)
	stdoutHandler slog.Handler
)

type cliConfig struct {
	Project     string
	Broker      string
	Remote      string
	DeployAddr  string
	RecvTimeout time.Duration
}

var rootCmd = &cobra.Command{
	Use:           "vcsws",
	Short:         "Content addressed version control over websockets",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logLevel.Set(slog.LevelDebug)
		}
		_, err := loadConfig(cmd)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("project", "p", ".", "Project directory")
	rootCmd.PersistentFlags().StringP("broker", "b", defaultBrokerURL, "Broker websocket address for sync and subscribe")
	rootCmd.PersistentFlags().StringP("remote", "r", "", "Deploy node address for push and pull")
	rootCmd.PersistentFlags().String("deploy-addr", deploy.DefaultAddr, "Public address the deploy listener binds")
	rootCmd.PersistentFlags().Duration("timeout", wsproto.DefaultRecvTimeout, "Receive timeout for every protocol step")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")
}

func main() {
	stdoutHandler = tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(stdoutHandler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeProjectLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		stop()
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*cliConfig, error) {
	flags := cmd.Root().PersistentFlags()

	// Bind flags to viper
	viper.BindPFlag("project", flags.Lookup("project"))
	viper.BindPFlag("broker", flags.Lookup("broker"))
	viper.BindPFlag("remote", flags.Lookup("remote"))
	viper.BindPFlag("deploy_addr", flags.Lookup("deploy-addr"))
	viper.BindPFlag("recv_timeout", flags.Lookup("timeout"))

	// Set up environment variables
	viper.SetEnvPrefix("VCSWS")
	viper.AutomaticEnv()

	cfg := &cliConfig{
		Project:     viper.GetString("project"),
		Broker:      viper.GetString("broker"),
		Remote:      viper.GetString("remote"),
		DeployAddr:  viper.GetString("deploy_addr"),
		RecvTimeout: viper.GetDuration("recv_timeout"),
	}
	if cfg.Project == "" {
		return nil, errors.New("project directory missing")
	}
	if cfg.RecvTimeout <= 0 {
		return nil, fmt.Errorf("invalid timeout %s", cfg.RecvTimeout)
	}
	return cfg, nil
}

// wsURL turns "host:port" or a full url into a websocket endpoint url.
func wsURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("address missing")
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = wsPath
	}
	return u.String(), nil
}
