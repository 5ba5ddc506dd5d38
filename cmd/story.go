package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/service"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <idea>",
		Short: "Generates the start node of an empty project from a story idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := requireProject(cmd)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(c *service.Components) error {
				node, err := c.Machine.Bootstrap(cmd.Context(), pid, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, node)
			})
		},
	}
}

func newPlayCmd() *cobra.Command {
	var nodeID, world string
	playCmd := &cobra.Command{
		Use:   "play <action-id>",
		Short: "Applies an action at the current (or given) node and prints the outcome",
		Long: `Applies an action to the reader's session. Without --node and --world the
session's current node and world state are used, and the session advances.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := requireProject(cmd)
			if err != nil {
				return err
			}
			state, err := parseDocument("world", world)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(c *service.Components) error {
				ctx := cmd.Context()
				if nodeID == "" {
					sess, err := c.Machine.Session(ctx, pid)
					if err != nil {
						return err
					}
					nodeID = sess.CurrentNodeID
				}
				out, err := c.Machine.ApplyAction(ctx, pid, nodeID, args[0], state)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
	playCmd.Flags().StringVar(&nodeID, "node", "", "node to act from (defaults to the session's current node)")
	playCmd.Flags().StringVar(&world, "world", "", "world state as a JSON object (defaults to the session's)")
	return playCmd
}

func newConnectCmd() *cobra.Command {
	var in editor.ConnectInput
	var stay bool
	var effects string
	connectCmd := &cobra.Command{
		Use:   "connect <from-node> <to-node>",
		Short: "Links two existing nodes with a new action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := requireProject(cmd)
			if err != nil {
				return err
			}
			in.From, in.To = args[0], args[1]
			if stay {
				in.Navigation = schemas.NavigationStay
			}
			if in.Effects, err = parseDocument("effects", effects); err != nil {
				return err
			}
			return withEngine(cmd, func(c *service.Components) error {
				node, err := c.Editor.ConnectNodes(cmd.Context(), pid, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, node)
			})
		},
	}
	connectCmd.Flags().StringVarP(&in.Description, "description", "d", "", "action description")
	connectCmd.Flags().BoolVar(&in.IsKey, "key", false, "mark the action as a key action")
	connectCmd.Flags().BoolVar(&stay, "stay", false, "the action keeps the reader at the current node")
	connectCmd.Flags().StringVar(&effects, "effects", "", "world state effects as a JSON object")
	_ = connectCmd.MarkFlagRequired("description")
	return connectCmd
}

// parseArm splits an "ACTION::SCENE" branch argument.
func parseArm(raw string) (editor.BranchSpec, error) {
	action, scene, ok := strings.Cut(raw, "::")
	action, scene = strings.TrimSpace(action), strings.TrimSpace(scene)
	if !ok || action == "" || scene == "" {
		return editor.BranchSpec{}, schemas.NewInvalidInputError("cmd.parseArm", "", "branch arm %q must look like ACTION::SCENE", raw)
	}
	return editor.BranchSpec{ActionDescription: action, Scene: scene}, nil
}

func newBranchCmd() *cobra.Command {
	var arms []string
	var input string
	branchCmd := &cobra.Command{
		Use:   "branch <from-node>",
		Short: "Creates several new nodes reachable from one node",
		Long: `Creates one new node per arm, each reached by its own action. Arms are given
as --arm "ACTION::SCENE" or as a JSON array of branch specs via --input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := requireProject(cmd)
			if err != nil {
				return err
			}
			var specs []editor.BranchSpec
			if input != "" {
				if err := readInput(cmd, input, &specs); err != nil {
					return err
				}
			}
			for _, raw := range arms {
				spec, err := parseArm(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			if len(specs) == 0 {
				return fmt.Errorf("at least one --arm or --input is required")
			}
			return withEngine(cmd, func(c *service.Components) error {
				nodes, err := c.Editor.CreateStoryBranch(cmd.Context(), pid, args[0], specs)
				if err != nil {
					return err
				}
				return printJSON(cmd, nodes)
			})
		},
	}
	branchCmd.Flags().StringArrayVar(&arms, "arm", nil, `branch arm as "ACTION::SCENE" (repeatable)`)
	branchCmd.Flags().StringVar(&input, "input", "", "JSON file with branch specs (- for stdin)")
	return branchCmd
}
