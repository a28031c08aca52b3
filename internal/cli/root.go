// Package cli implements quotactl, the command-line client of a running
// quotaguard daemon.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"quotaguard/internal/models"
	"quotaguard/internal/version"
)

// DefaultServer is used when neither --server nor QUOTAGUARD_URL is set.
const DefaultServer = "http://localhost:8080"

type options struct {
	server  string
	format  string
	timeout time.Duration
}

func (o *options) client() (*Client, error) {
	return NewClient(o.server, o.timeout)
}

// NewRootCommand builds the quotactl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Inspect and steer a quotaguard daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(opts.format)
			if err != nil {
				return err
			}
			opts.format = format
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	server := os.Getenv("QUOTAGUARD_URL")
	if server == "" {
		server = DefaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "quotaguard base URL (env QUOTAGUARD_URL)")
	root.PersistentFlags().StringVarP(&opts.format, "output", "o", FormatTable, "Output format: table|json")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		newStatusCommand(opts),
		newTasksCommand(opts),
		newTaskCommand(opts),
		newGetCommand(opts),
		newResetCommand(opts),
		newReconcileCommand(opts),
		newHealthCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs quotactl with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the throttler flow and quota window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			renderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newTasksCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			list, err := c.Tasks(cmd.Context())
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			renderTasks(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func newTaskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "task <id>",
		Short: "Describe one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			info, err := c.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			renderTask(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Read a task value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			value, err := c.Value(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), value)
			}
			return renderValue(cmd.OutOrStdout(), value)
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Evict a task's cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return err
		},
	}
}

func newReconcileCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute the global delay now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return err
		},
	}
}

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			if opts.format == FormatJSON {
				if err := writeJSON(cmd.OutOrStdout(), health); err != nil {
					return err
				}
			} else {
				renderHealth(cmd.OutOrStdout(), health)
			}
			if health.Status == models.StatusUnhealthy {
				return fmt.Errorf("daemon is unhealthy")
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "quotactl "+version.Version+" (commit: "+version.GitCommit+")")
			return err
		},
	}
}
