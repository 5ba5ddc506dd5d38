package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/service"
)

func newExportCmd() *cobra.Command {
	var format, output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Writes a project as JSON, YAML or GraphML",
		Args:  cobra.NoArgs,
		RunE: projectRunE(func(cmd *cobra.Command, args []string, pid string, c *service.Components) error {
			f, err := interchange.ParseFormat(format)
			if err != nil {
				return err
			}
			p, err := c.Registry.Get(cmd.Context(), pid)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				w = file
			}
			return c.Exporter.Export(cmd.Context(), w, p, f)
		}),
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or graphml")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout when empty)")
	return exportCmd
}

// formatFromPath infers an interchange format from a file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func newImportCmd() *cobra.Command {
	var format, id, name string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Imports a JSON or YAML bundle as a new project, or into --project",
		Long: `Without --project the bundle becomes a new project. With --project it
replaces that project's graph as one undoable edit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = formatFromPath(args[0])
			}
			f, err := interchange.ParseFormat(format)
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open bundle: %w", err)
				}
				defer file.Close()
				r = file
			}
			pid, _ := cmd.Flags().GetString("project")

			return withEngine(cmd, func(c *service.Components) error {
				if pid != "" {
					snapID, err := c.Importer.ImportInto(cmd.Context(), pid, r, f)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported into %s (undo with: history rollback %s)\n", pid, snapID)
					return nil
				}
				p, err := c.Importer.ImportNew(cmd.Context(), r, f, id, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID())
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&format, "format", "f", "", "bundle format: json or yaml (inferred from the extension)")
	importCmd.Flags().StringVar(&id, "id", "", "ID for the new project")
	importCmd.Flags().StringVar(&name, "name", "", "name for the new project (defaults to the bundle's)")
	return importCmd
}
