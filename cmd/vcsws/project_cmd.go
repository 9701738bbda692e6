package main

import (
	"fmt"
	"log/slog"

	"github.com/openmined/vcsws/internal/project"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newCommitCmd(),
		newBranchCmd(),
		newCheckoutCmd(),
		newLogCmd(),
		newShowCmd(),
		newIgnoreCmd(),
	)
}

// withProject opens the configured project and runs fn. Mutating commands hold the
// project lock and checkpoint the session once fn succeeds.
func withProject(cmd *cobra.Command, mutate bool, fn func(*cliConfig, *project.Project) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, err := project.Open(cfg.Project)
	if err != nil {
		return err
	}
	if err := attachProjectLog(p); err != nil {
		slog.Warn("project log unavailable", "error", err)
	}
	cmd.SilenceUsage = true

	if mutate {
		if err := p.Lock(); err != nil {
			return err
		}
		defer p.Unlock()
	}

	if err := fn(cfg, p); err != nil {
		return err
	}
	if mutate {
		return p.Checkpoint()
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Project
			if len(args) == 1 {
				path = args[0]
			}
			cmd.SilenceUsage = true

			p, err := project.Init(path)
			if err != nil {
				return err
			}
			if err := p.Checkpoint(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s on branch %s\n", green("initialized"), p.Root, branchStyle.Render(p.ActiveBranch()))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Fingerprint the project and list every tracked file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, false, func(_ *cliConfig, p *project.Project) error {
				set, err := p.Fingerprint()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render(p.Name), branchStyle.Render(p.ActiveBranch()))
				for _, fp := range set.List() {
					fmt.Fprintf(out, "%s   %s\n", hashStyle.Render(fp.Hash), fp.Path)
				}
				fmt.Fprintf(out, "%d files\n", set.Len())
				return nil
			})
		},
	}
}

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <name>",
		Short: "Snapshot the project into the active branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			message, _ := cmd.Flags().GetString("message")

			return withProject(cmd, true, func(_ *cliConfig, p *project.Project) error {
				c, err := p.Commit(name, message)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s on %s (%d files)\n", green("committed"), c.Name, branchStyle.Render(p.ActiveBranch()), len(c.Entries))
				return nil
			})
		},
	}
	cmd.Flags().StringP("message", "m", "", "Commit description")
	return cmd
}

func newBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches, or create one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, len(args) == 1, func(_ *cliConfig, p *project.Project) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					if err := p.CreateBranch(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "%s %s\n", green("branch"), args[0])
					return nil
				}

				names, err := p.Branches.List()
				if err != nil {
					return err
				}
				active := p.ActiveBranch()
				for _, name := range names {
					if name == active {
						fmt.Fprintf(out, "* %s\n", branchStyle.Render(name))
					} else {
						fmt.Fprintf(out, "  %s\n", name)
					}
				}
				return nil
			})
		},
	}
}

func newCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch the active branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, true, func(_ *cliConfig, p *project.Project) error {
				out := cmd.OutOrStdout()
				if !p.Relocate(args[0]) {
					fmt.Fprintf(out, "%s branch %s not found, staying on %s\n", yellow("warning:"), args[0], branchStyle.Render(p.ActiveBranch()))
					return nil
				}
				fmt.Fprintf(out, "on branch %s\n", branchStyle.Render(p.ActiveBranch()))
				return nil
			})
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log [branch]",
		Short: "List the commits of a branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, false, func(_ *cliConfig, p *project.Project) error {
				name := p.ActiveBranch()
				if len(args) == 1 {
					name = args[0]
				}
				commits, err := p.Branches.Commits(name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, branchStyle.Render(name))
				for _, c := range commits {
					fmt.Fprintf(out, "  %s\n", c)
				}
				return nil
			})
		},
	}
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <commit>",
		Short: "Print a commit record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			return withProject(cmd, false, func(_ *cliConfig, p *project.Project) error {
				if branchName == "" {
					branchName = p.ActiveBranch()
				}
				c, err := p.Branches.Read(branchName, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render(c.Name), branchStyle.Render(branchName))
				if c.Description != "" {
					fmt.Fprintln(out, c.Description)
				}
				for _, fp := range c.Entries {
					fmt.Fprintf(out, "%s : %s\n", hashStyle.Render(fp.Hash), fp.Path)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("branch", "", "Branch holding the commit (default active branch)")
	return cmd
}

func newIgnoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ignore [path]",
		Short: "Add a project relative path to the ignore file, or reload it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rel string
			if len(args) == 1 {
				rel = args[0]
			}
			return withProject(cmd, true, func(_ *cliConfig, p *project.Project) error {
				added, err := p.Ignore(rel)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rel != "" && !added {
					fmt.Fprintf(out, "%s %s not added\n", yellow("warning:"), rel)
				}
				for _, path := range p.IgnoredPaths() {
					fmt.Fprintln(out, path)
				}
				return nil
			})
		},
	}
}
