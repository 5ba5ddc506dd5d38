package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/service"
)

func newNodeCmd() *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Adds, inspects, edits and removes story nodes",
	}
	nodeCmd.AddCommand(
		newNodeAddCmd(),
		newNodeShowCmd(),
		newNodeEditCmd(),
		newNodeDeleteCmd(),
		newNodeCloneCmd(),
		newNodeRegenCmd(),
	)
	return nodeCmd
}

// projectRunE wraps a command body that needs a project ID and the engine.
func projectRunE(fn func(cmd *cobra.Command, args []string, pid string, c *service.Components) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		pid, err := requireProject(cmd)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(c *service.Components) error {
			return fn(cmd, args, pid, c)
		})
	}
}

func newNodeAddCmd() *cobra.Command {
	var (
		input    string
		assisted bool
		nodeType string
		custom   editor.CustomNodeInput
		aided    editor.AssistedNodeInput
	)
	addCmd := &cobra.Command{
		Use:   "add [scene]",
		Short: "Adds a node, either fully authored or expanded by the generator",
		Long: `Adds a node. By default the argument is the scene text of a custom node.
With --assisted it is a rough description the generator expands. --input reads
the complete JSON request instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			}
			if assisted {
				if input != "" {
					if err := readInput(cmd, input, &aided); err != nil {
						return err
					}
				}
				if text != "" {
					aided.RawDescription = text
				}
				if nodeType != "" {
					aided.NodeType = schemas.NodeType(nodeType)
				}
				node, err := c.Editor.CreateAssistedNode(cmd.Context(), pid, aided)
				if err != nil {
					return err
				}
				return printJSON(cmd, node)
			}

			if input != "" {
				if err := readInput(cmd, input, &custom); err != nil {
					return err
				}
			}
			if text != "" {
				custom.Scene = text
			}
			if nodeType != "" {
				custom.NodeType = schemas.NodeType(nodeType)
			}
			node, err := c.Editor.CreateCustomNode(cmd.Context(), pid, custom)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	addCmd.Flags().StringVar(&input, "input", "", "JSON file with the full request (- for stdin)")
	addCmd.Flags().BoolVar(&assisted, "assisted", false, "expand the argument with the content generator")
	addCmd.Flags().StringVar(&nodeType, "type", "", "node type: scene, root or ending")
	addCmd.Flags().BoolVar(&aided.PolishScene, "polish", false, "with --assisted: rewrite the description as a scene")
	addCmd.Flags().BoolVar(&aided.GenerateEvents, "events", false, "with --assisted: generate events")
	addCmd.Flags().BoolVar(&aided.GenerateActions, "actions", false, "with --assisted: generate actions")
	return addCmd
}

func newNodeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Prints a node with its events, actions and bindings",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			d, err := c.Editor.Detail(cmd.Context(), pid, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		}),
	}
}

func newNodeEditCmd() *cobra.Command {
	var scene string
	editCmd := &cobra.Command{
		Use:   "edit <node-id>",
		Short: "Replaces a node's scene text",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			node, err := c.Editor.EditScene(cmd.Context(), pid, args[0], scene)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	editCmd.Flags().StringVar(&scene, "scene", "", "new scene text")
	_ = editCmd.MarkFlagRequired("scene")
	return editCmd
}

func newNodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Deletes a node and everything that only it owns",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			deleted, err := c.Editor.DeleteNode(cmd.Context(), pid, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, deleted)
		}),
	}
}

func newNodeCloneCmd() *cobra.Command {
	var scene string
	cloneCmd := &cobra.Command{
		Use:   "clone <node-id>",
		Short: "Copies a node with fresh IDs, optionally replacing its scene",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			var modify *string
			if cmd.Flags().Changed("scene") {
				modify = &scene
			}
			node, err := c.Editor.CloneNode(cmd.Context(), pid, args[0], modify)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	cloneCmd.Flags().StringVar(&scene, "scene", "", "scene text for the copy")
	return cloneCmd
}

func newNodeRegenCmd() *cobra.Command {
	var part, extra string
	regenCmd := &cobra.Command{
		Use:   "regen <node-id>",
		Short: "Regenerates a node's scene, events or actions",
		Args:  cobra.ExactArgs(1),
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			doc, err := parseDocument("context", extra)
			if err != nil {
				return err
			}
			node, err := c.Editor.RegeneratePart(cmd.Context(), pid, args[0], editor.Part(part), doc)
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		}),
	}
	regenCmd.Flags().StringVar(&part, "part", string(editor.PartScene), "part to regenerate: scene, events or actions")
	regenCmd.Flags().StringVar(&extra, "context", "", "extra generation context as a JSON object")
	return regenCmd
}
