package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/service"
)

func newActionCmd() *cobra.Command {
	actionCmd := &cobra.Command{
		Use:   "action",
		Short: "Manages the actions a reader can take",
	}

	var in editor.AddActionInput
	var stay bool
	var effects string
	addCmd := &cobra.Command{
		Use:   "add <node-id>",
		Short: "Adds an action to a node; effects are generated when omitted",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			if stay {
				in.Navigation = schemas.NavigationStay
			}
			doc, err := parseDocument("effects", effects)
			if err != nil {
				return err
			}
			in.Effects = doc
			node, err := c.Editor.AddAction(cmd.Context(), pid, args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	addCmd.Flags().StringVarP(&in.Description, "description", "d", "", "action description")
	addCmd.Flags().BoolVar(&in.IsKey, "key", false, "mark the action as a key action")
	addCmd.Flags().BoolVar(&stay, "stay", false, "the action keeps the reader at the current node")
	addCmd.Flags().StringVar(&in.Response, "response", "", "text shown when a stay action is taken")
	addCmd.Flags().StringVar(&effects, "effects", "", "world state effects as a JSON object")
	_ = addCmd.MarkFlagRequired("description")

	var description string
	editCmd := &cobra.Command{
		Use:   "edit <action-id>",
		Short: "Replaces an action's description",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			node, err := c.Editor.EditActionDescription(cmd.Context(), pid, args[0], description)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	editCmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	_ = editCmd.MarkFlagRequired("description")

	deleteCmd := &cobra.Command{
		Use:   "delete <action-id>",
		Short: "Deletes an action and its bindings",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			node, err := c.Editor.DeleteAction(cmd.Context(), pid, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}

	actionCmd.AddCommand(addCmd, editCmd, deleteCmd)
	return actionCmd
}

func newEventCmd() *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manages dialogue and narration events",
	}

	var in editor.EventInput
	var input, eventType string
	var timestamp int
	addCmd := &cobra.Command{
		Use:   "add <node-id>",
		Short: "Adds an event to a node",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			if input != "" {
				if err := readInput(cmd, input, &in); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("content") {
				in.Content, _ = flags.GetString("content")
			}
			if flags.Changed("speaker") {
				in.Speaker, _ = flags.GetString("speaker")
			}
			if flags.Changed("description") {
				in.Description, _ = flags.GetString("description")
			}
			if flags.Changed("timestamp") {
				in.Timestamp = &timestamp
			}
			if eventType != "" {
				in.EventType = schemas.EventType(eventType)
			}
			node, err := c.Editor.AddDialogueEvent(cmd.Context(), pid, args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	addCmd.Flags().String("content", "", "what is said or narrated")
	addCmd.Flags().String("speaker", "", "speaking character")
	addCmd.Flags().String("description", "", "stage direction")
	addCmd.Flags().IntVar(&timestamp, "timestamp", 0, "ordering position (defaults to after the last event)")
	addCmd.Flags().StringVar(&eventType, "type", "", "event type: dialogue or narration")
	addCmd.Flags().StringVar(&input, "input", "", "JSON file with the full event, including actions (- for stdin)")

	deleteCmd := &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Deletes an event and the actions it owns",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			node, err := c.Editor.DeleteEvent(cmd.Context(), pid, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}

	eventCmd.AddCommand(addCmd, deleteCmd)
	return eventCmd
}
