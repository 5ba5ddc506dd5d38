package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/internal/service"
)

func newProjectCmd() *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Creates, lists and deletes projects",
	}

	var id string
	newCmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Creates an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(c *service.Components) error {
				p, err := c.Registry.Create(cmd.Context(), id, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID())
				return nil
			})
		},
	}
	newCmd.Flags().StringVar(&id, "id", "", "project ID (generated when empty)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(c *service.Components) error {
				list, err := c.Registry.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tNODES")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", s.ID, s.Name, s.Nodes)
				}
				return tw.Flush()
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes a project and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(c *service.Components) error {
				if err := c.Registry.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	projectCmd.AddCommand(newCmd, listCmd, deleteCmd)
	return projectCmd
}
