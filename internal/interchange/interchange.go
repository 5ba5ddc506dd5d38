// Package interchange moves whole projects in and out of the engine as JSON,
// YAML or GraphML documents.
package interchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// BundleVersion is written into every exported bundle.
const BundleVersion = 1

// Format names an interchange encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatGraphML Format = "graphml"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "graphml", "xml":
		return FormatGraphML, nil
	}
	return "", schemas.NewInvalidInputError("interchange.ParseFormat", s, "unknown format %q", s)
}

// Bundle is a project in exchange form.
type Bundle struct {
	Version       int                      `json:"version" yaml:"version"`
	Name          string                   `json:"name" yaml:"name"`
	WorldState    schemas.WorldState       `json:"world_state" yaml:"world_state"`
	CurrentNodeID string                   `json:"current_node_id,omitempty" yaml:"current_node_id,omitempty"`
	Graph         *narrative.GraphDocument `json:"graph" yaml:"graph"`
}

// rawBundle defers graph decoding to narrative.Load so imports get the same
// schema check and validation as stored projects.
type rawBundle struct {
	Version       int                 `json:"version"`
	Name          string              `json:"name"`
	WorldState    schemas.WorldState  `json:"world_state"`
	CurrentNodeID string              `json:"current_node_id"`
	Graph         jsoniter.RawMessage `json:"graph"`
}

// plain decodes numbers as float64 so YAML renders them as numbers rather
// than quoted strings.
var plain = jsoniter.ConfigCompatibleWithStandardLibrary

// Exporter writes projects.
type Exporter struct {
	log *zap.Logger
}

// NewExporter returns an exporter. A nil logger is replaced by a no-op one.
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{log: logger.Named("Exporter")}
}

// Export writes p to w in the given format under the project's read lock.
func (e *Exporter) Export(ctx context.Context, w io.Writer, p *project.Project, format Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var out []byte
	err := p.Read(func(v project.View) error {
		var err error
		switch format {
		case FormatGraphML:
			out, err = encodeGraphML(p.ID(), p.Name(), v.Graph)
		case FormatJSON, FormatYAML:
			out, err = encodeBundle(Bundle{
				Version:       BundleVersion,
				Name:          p.Name(),
				WorldState:    v.World,
				CurrentNodeID: v.CurrentNodeID,
				Graph:         v.Graph.ToDocument(),
			}, format)
		default:
			err = schemas.NewInvalidInputError("Exporter.Export", string(format), "unknown format %q", format)
		}
		return err
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	e.log.Info("Project exported.", zap.String("project_id", p.ID()), zap.String("format", string(format)), zap.Int("bytes", len(out)))
	return nil
}

func encodeBundle(b Bundle, format Format) ([]byte, error) {
	data, err := narrative.JSON.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	if format == FormatJSON {
		return append(data, '\n'), nil
	}

	var tree any
	if err := plain.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to re-read bundle: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a JSON or YAML bundle into engine state. The graph is
// schema-checked and validated; a current node that does not exist is
// dropped.
func Decode(data []byte, format Format, opts narrative.LoadOptions) (*project.State, string, error) {
	const op = "interchange.Decode"
	switch format {
	case FormatJSON:
	case FormatYAML:
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, "", schemas.NewInvalidInputError(op, "", "malformed yaml: %v", err)
		}
		converted, err := narrative.JSON.Marshal(tree)
		if err != nil {
			return nil, "", schemas.NewInvalidInputError(op, "", "yaml does not map to JSON: %v", err)
		}
		data = converted
	case FormatGraphML:
		return nil, "", schemas.NewInvalidInputError(op, "", "graphml is an export-only format")
	default:
		return nil, "", schemas.NewInvalidInputError(op, string(format), "unknown format %q", format)
	}

	var raw rawBundle
	if err := narrative.JSON.Unmarshal(data, &raw); err != nil {
		return nil, "", schemas.NewInvalidInputError(op, "", "malformed bundle: %v", err)
	}
	if raw.Version > BundleVersion {
		return nil, "", schemas.NewInvalidInputError(op, "", "bundle version %d is newer than supported version %d", raw.Version, BundleVersion)
	}
	if len(raw.Graph) == 0 {
		return nil, "", schemas.NewInvalidInputError(op, "", "bundle has no graph")
	}
	g, err := narrative.Load(raw.Graph, opts)
	if err != nil {
		return nil, "", err
	}

	world := raw.WorldState
	if world == nil {
		world = schemas.WorldState{}
	}
	current := raw.CurrentNodeID
	if current != "" && !g.HasNode(current) {
		current = ""
	}
	return &project.State{Graph: g, World: world, CurrentNodeID: current}, raw.Name, nil
}

// Importer loads bundles into projects.
type Importer struct {
	registry *project.Registry
	log      *zap.Logger
}

// NewImporter returns an importer bound to a registry.
func NewImporter(registry *project.Registry, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{registry: registry, log: logger.Named("Importer")}
}

// ImportNew creates a project from a bundle. An empty name falls back to the
// bundle's name. If the bundle cannot be installed the project is removed
// again.
func (im *Importer) ImportNew(ctx context.Context, r io.Reader, format Format, id, name string) (*project.Project, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read import: %w", err)
	}
	st, bundleName, err := Decode(data, format, im.registry.LoadOptions())
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = bundleName
	}

	p, err := im.registry.Create(ctx, id, name)
	if err != nil {
		return nil, err
	}
	if _, err := im.mutate(ctx, p, st, "import into new project"); err != nil {
		if derr := im.registry.Delete(context.WithoutCancel(ctx), p.ID()); derr != nil {
			im.log.Warn("Failed to remove project after failed import.", zap.String("project_id", p.ID()), zap.Error(derr))
		}
		return nil, err
	}
	return p, nil
}

// ImportInto replaces an existing project's graph and session with a
// bundle's. The replacement is recorded in history and can be rolled back.
func (im *Importer) ImportInto(ctx context.Context, pid string, r io.Reader, format Format) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read import: %w", err)
	}
	st, _, err := Decode(data, format, im.registry.LoadOptions())
	if err != nil {
		return "", err
	}
	p, err := im.registry.Get(ctx, pid)
	if err != nil {
		return "", err
	}
	return im.mutate(ctx, p, st, "replace project from import")
}

func (im *Importer) mutate(ctx context.Context, p *project.Project, st *project.State, desc string) (string, error) {
	snap, err := p.Mutate(ctx, project.Mutation{Op: schemas.OpImport, Description: desc}, func(tx *project.Tx) error {
		tx.Graph = st.Graph
		tx.World = st.World
		tx.CurrentNodeID = st.CurrentNodeID
		tx.Affected = st.Graph.StartNodeID()
		return nil
	})
	if err != nil {
		return "", err
	}
	im.log.Info("Project imported.",
		zap.String("project_id", p.ID()),
		zap.Int("nodes", st.Graph.Len()),
		zap.String("snapshot_id", snap))
	return snap, nil
}
