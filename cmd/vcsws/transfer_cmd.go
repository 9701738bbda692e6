package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/vcsws/internal/client"
	"github.com/openmined/vcsws/internal/deploy"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/transfer"
	"github.com/openmined/vcsws/internal/watch"
	"github.com/openmined/vcsws/internal/wsproto"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		newPushCmd(),
		newPullCmd(),
		newDeployCmd(),
		newSyncCmd(),
		newSubscribeCmd(),
	)
}

func newClient(cfg *cliConfig, p *project.Project, addr string) (*client.Client, error) {
	u, err := wsURL(addr)
	if err != nil {
		return nil, err
	}
	return client.New(p, client.Config{URL: u, RecvTimeout: cfg.RecvTimeout}), nil
}

func printStats(cmd *cobra.Command, verb string, s transfer.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d files (%s)\n", green(verb), s.Files, humanize.Bytes(uint64(s.Bytes)))
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the active branch to a deploy node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, false, func(cfg *cliConfig, p *project.Project) error {
				c, err := newClient(cfg, p, cfg.Remote)
				if err != nil {
					return fmt.Errorf("remote: %w", err)
				}
				stats, err := c.Push(cmd.Context())
				if err != nil {
					return err
				}
				printStats(cmd, "pushed", stats)
				return nil
			})
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull the active branch from a deploy node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, true, func(cfg *cliConfig, p *project.Project) error {
				c, err := newClient(cfg, p, cfg.Remote)
				if err != nil {
					return fmt.Errorf("remote: %w", err)
				}
				diff, stats, err := c.Pull(cmd.Context())
				if diff != nil {
					printDiff(cmd.OutOrStdout(), diff)
				}
				if err != nil {
					return err
				}
				printStats(cmd, "pulled", stats)
				return nil
			})
		},
	}
}

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Wait on the deploy address for a single push or pull",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("status-interval")
			return withProject(cmd, true, func(cfg *cliConfig, p *project.Project) error {
				l := deploy.New(p, deploy.Config{
					Addr:           cfg.DeployAddr,
					StatusInterval: interval,
					RecvTimeout:    cfg.RecvTimeout,
				})
				res, err := l.Run(cmd.Context())
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cyan("served"), res.Command.String())
					if res.Command.Kind == wsproto.CmdPush && res.Diff != nil {
						printDiff(cmd.OutOrStdout(), res.Diff)
					}
				}
				if err != nil {
					return err
				}
				printStats(cmd, "transferred", res.Stats)
				return nil
			})
		},
	}
	cmd.Flags().Duration("status-interval", deploy.DefaultStatusInterval, "Interval between status notifications")
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Broadcast the project to every broker subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watching, _ := cmd.Flags().GetBool("watch")
			debounce, _ := cmd.Flags().GetDuration("debounce")
			return withProject(cmd, false, func(cfg *cliConfig, p *project.Project) error {
				c, err := newClient(cfg, p, cfg.Broker)
				if err != nil {
					return fmt.Errorf("broker: %w", err)
				}
				if watching {
					return watchAndSync(cmd, c, p, debounce)
				}
				stats, err := c.Sync(cmd.Context())
				if err != nil {
					return err
				}
				printStats(cmd, "synced", stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Sync again whenever the project tree changes")
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a change triggers a sync")
	return cmd
}

// watchAndSync runs one round now and another after every batch of changes.
func watchAndSync(cmd *cobra.Command, c *client.Client, p *project.Project, debounce time.Duration) error {
	ctx := cmd.Context()
	w := watch.New(p.Root, debounce)
	w.FilterPaths(p.ShouldIgnore)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	round := func() {
		stats, err := c.Sync(ctx)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), red("round failed:"), err)
			return
		}
		printStats(cmd, "synced", stats)
	}

	round()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Changes():
			if !ok {
				return nil
			}
			slog.Info("project changed", "paths", len(batch))
			round()
		}
	}
}

func newSubscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Receive the next broker sync round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			return withProject(cmd, true, func(cfg *cliConfig, p *project.Project) error {
				c, err := newClient(cfg, p, cfg.Broker)
				if err != nil {
					return fmt.Errorf("broker: %w", err)
				}
				return subscribeRounds(cmd, c, follow)
			})
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "Subscribe again after every round until interrupted")
	return cmd
}

// subscribeRounds receives one round, or keeps re-subscribing when follow is set since
// the broker drops every subscriber at the end of a round.
func subscribeRounds(cmd *cobra.Command, c *client.Client, follow bool) error {
	ctx := cmd.Context()
	for {
		diff, stats, err := c.Subscribe(ctx)
		if diff != nil {
			printDiff(cmd.OutOrStdout(), diff)
		}
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return nil
		case err != nil && !follow:
			return err
		case err != nil:
			fmt.Fprintln(cmd.ErrOrStderr(), red("round failed:"), err)
			// back off while the broker is unreachable
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		default:
			printStats(cmd, "received", stats)
		}
		if !follow {
			return nil
		}
	}
}
