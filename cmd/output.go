package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

var json = narrative.JSON

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// readInput decodes a JSON document into v. "-" reads stdin.
func readInput(cmd *cobra.Command, path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return schemas.NewInvalidInputError("cmd.readInput", path, "input is not valid JSON: %v", err)
	}
	return nil
}

// parseDocument parses an optional inline JSON object flag.
func parseDocument(flag, raw string) (schemas.Document, error) {
	if raw == "" {
		return nil, nil
	}
	var doc schemas.Document
	if err := json.UnmarshalFromString(raw, &doc); err != nil {
		return nil, schemas.NewInvalidInputError("cmd.parseDocument", "", "--%s must be a JSON object: %v", flag, err)
	}
	return doc, nil
}
