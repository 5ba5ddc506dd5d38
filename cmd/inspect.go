package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/service"
	"github.com/xkilldash9x/plotweave/internal/statediff"
)

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists, rolls back and prunes a project's edit history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			snaps, err := c.History.List(cmd.Context(), pid)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOPERATION\tNODE\tCREATED\tDESCRIPTION")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.OperationType, s.AffectedNodeID, s.CreatedAt.Format(time.RFC3339), s.Description)
			}
			return tw.Flush()
		}),
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback <snapshot-id>",
		Short: "Restores the state from before a snapshot's edit and discards later history",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			p, err := c.Registry.Get(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if err := c.History.Rollback(cmd.Context(), p, args[0], c.Registry.LoadOptions()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s to before %s\n", pid, args[0])
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Deletes one snapshot without changing the graph",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			snap, err := c.History.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if snap.ProjectID != pid {
				return schemas.NewSnapshotNotFoundError("cmd.history.delete", args[0])
			}
			if err := c.History.Delete(cmd.Context(), snap.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted snapshot %s\n", snap.ID)
			return nil
		}),
	}

	var to string
	var ignore []string
	var orderless bool
	diffCmd := &cobra.Command{
		Use:   "diff <snapshot-id>",
		Short: "Shows what changed since a snapshot, or between two snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			p, err := c.Registry.Get(cmd.Context(), pid)
			if err != nil {
				return err
			}
			opts := statediff.DefaultOptions()
			opts.IgnoreKeys = ignore
			opts.IgnoreListOrder = orderless
			res, err := c.History.Diff(cmd.Context(), p, args[0], to, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	diffCmd.Flags().StringVar(&to, "to", "", "compare with this snapshot's pre-image instead of the live project")
	diffCmd.Flags().StringSliceVar(&ignore, "ignore", nil, "object keys to leave out of the comparison, e.g. action_history")
	diffCmd.Flags().BoolVar(&orderless, "ignore-order", false, "compare lists regardless of order")

	historyCmd.AddCommand(listCmd, diffCmd, rollbackCmd, deleteCmd)
	return historyCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Checks a project's graph and prints errors and warnings",
		Args:  cobra.NoArgs,
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			report, err := c.Editor.ValidateGraph(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			return report.Err()
		}),
	}
}

func newOverviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Prints graph statistics",
		Args:  cobra.NoArgs,
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			stats, err := c.Editor.GraphOverview(cmd.Context(), pid)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		}),
	}
}

func newConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections <node-id>",
		Short: "Lists a node's incoming and outgoing actions",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			conns, err := c.Editor.NodeConnections(cmd.Context(), pid, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, conns)
		}),
	}
}
