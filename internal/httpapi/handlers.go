package httpapi

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/statediff"
)

type createProjectRequest struct {
	ID   string `json:"id" validate:"omitempty,max=128"`
	Name string `json:"name" validate:"max=256"`
}

type bootstrapRequest struct {
	Idea string `json:"idea" validate:"required"`
}

type playRequest struct {
	NodeID     string             `json:"node_id"`
	ActionID   string             `json:"action_id" validate:"required"`
	WorldState schemas.WorldState `json:"world_state,omitempty"`
}

type sceneRequest struct {
	Scene string `json:"scene" validate:"required"`
}

type regenerateRequest struct {
	Part    editor.Part      `json:"part" validate:"required,oneof=scene events actions"`
	Context schemas.Document `json:"context,omitempty"`
}

type cloneRequest struct {
	Scene *string `json:"scene,omitempty"`
}

type branchRequest struct {
	Branches []editor.BranchSpec `json:"branches" validate:"required,min=1"`
}

type descriptionRequest struct {
	Description string `json:"description" validate:"required"`
}

func projectID(r *http.Request) string { return chi.URLParam(r, "projectID") }
func nodeID(r *http.Request) string    { return chi.URLParam(r, "nodeID") }

func format(r *http.Request) (interchange.Format, error) {
	return interchange.ParseFormat(r.URL.Query().Get("format"))
}

// -- Projects --

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.Registry.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.Registry.Create(r.Context(), req.ID, req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": p.ID(), "name": p.Name()})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Delete(r.Context(), projectID(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liveFeed(w http.ResponseWriter, r *http.Request) {
	pid := projectID(r)
	if _, err := s.Registry.Get(r.Context(), pid); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.Live.ServeWS(w, r, pid)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	f, err := format(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.Registry.Get(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := s.Exporter.Export(r.Context(), &buf, p, f); err != nil {
		s.respondError(w, r, err)
		return
	}
	switch f {
	case interchange.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	case interchange.FormatGraphML:
		w.Header().Set("Content-Type", "application/graphml+xml")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) importNew(w http.ResponseWriter, r *http.Request) {
	f, err := format(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	p, err := s.Importer.ImportNew(r.Context(), body, f, q.Get("id"), q.Get("name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": p.ID(), "name": p.Name()})
}

func (s *Server) importInto(w http.ResponseWriter, r *http.Request) {
	f, err := format(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	snap, err := s.Importer.ImportInto(r.Context(), projectID(r), body, f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"snapshot_id": snap})
}

// -- Reading the story --

func (s *Server) bootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Machine.Bootstrap(r.Context(), projectID(r), req.Idea)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Machine.Session(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

// play applies an action. Without a node_id the reader's current node is
// used; without a world_state the project's is.
func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	pid := projectID(r)
	if req.NodeID == "" {
		sess, err := s.Machine.Session(r.Context(), pid)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		req.NodeID = sess.CurrentNodeID
	}
	out, err := s.Machine.ApplyAction(r.Context(), pid, req.NodeID, req.ActionID, req.WorldState)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Editor.GraphOverview(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) validateGraph(w http.ResponseWriter, r *http.Request) {
	report, err := s.Editor.ValidateGraph(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": report.OK(), "report": report})
}

// -- Nodes --

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var in editor.CustomNodeInput
	if err := s.decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.CreateCustomNode(r.Context(), projectID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) createAssistedNode(w http.ResponseWriter, r *http.Request) {
	var in editor.AssistedNodeInput
	if err := s.decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.CreateAssistedNode(r.Context(), projectID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) nodeDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Editor.Detail(r.Context(), projectID(r), nodeID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.Editor.DeleteNode(r.Context(), projectID(r), nodeID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, deleted)
}

func (s *Server) editScene(w http.ResponseWriter, r *http.Request) {
	var req sceneRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.EditScene(r.Context(), projectID(r), nodeID(r), req.Scene)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.RegeneratePart(r.Context(), projectID(r), nodeID(r), req.Part, req.Context)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) cloneNode(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	node, err := s.Editor.CloneNode(r.Context(), projectID(r), nodeID(r), req.Scene)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) branch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	nodes, err := s.Editor.CreateStoryBranch(r.Context(), projectID(r), nodeID(r), req.Branches)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, nodes)
}

func (s *Server) connections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.Editor.NodeConnections(r.Context(), projectID(r), nodeID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conns)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var in editor.ConnectInput
	if err := s.decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.ConnectNodes(r.Context(), projectID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

// -- Actions and events --

func (s *Server) addAction(w http.ResponseWriter, r *http.Request) {
	var in editor.AddActionInput
	if err := s.decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.AddAction(r.Context(), projectID(r), nodeID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) editAction(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.EditActionDescription(r.Context(), projectID(r), chi.URLParam(r, "actionID"), req.Description)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) deleteAction(w http.ResponseWriter, r *http.Request) {
	node, err := s.Editor.DeleteAction(r.Context(), projectID(r), chi.URLParam(r, "actionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) addEvent(w http.ResponseWriter, r *http.Request) {
	var in editor.EventInput
	if err := s.decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	node, err := s.Editor.AddDialogueEvent(r.Context(), projectID(r), nodeID(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	node, err := s.Editor.DeleteEvent(r.Context(), projectID(r), chi.URLParam(r, "eventID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

// -- History --

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	pid := projectID(r)
	if _, err := s.Registry.Get(r.Context(), pid); err != nil {
		s.respondError(w, r, err)
		return
	}
	snaps, err := s.History.List(r.Context(), pid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snaps)
}

// snapshot loads a snapshot and hides ones that belong to another project.
func (s *Server) snapshot(r *http.Request) (*schemas.Snapshot, error) {
	id := chi.URLParam(r, "snapshotID")
	snap, err := s.History.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if snap.ProjectID != projectID(r) {
		return nil, schemas.NewSnapshotNotFoundError("httpapi.snapshot", id)
	}
	return snap, nil
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// diffSnapshot compares a snapshot's pre-image with the live project, or
// with ?to=<snapshot>. ?ignore=a,b masks keys; ?ignore_order=true compares
// lists as sets.
func (s *Server) diffSnapshot(w http.ResponseWriter, r *http.Request) {
	p, err := s.Registry.Get(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := statediff.DefaultOptions()
	if raw := q.Get("ignore"); raw != "" {
		opts.IgnoreKeys = strings.Split(raw, ",")
	}
	opts.IgnoreListOrder = q.Get("ignore_order") == "true"

	res, err := s.History.Diff(r.Context(), p, chi.URLParam(r, "snapshotID"), q.Get("to"), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	p, err := s.Registry.Get(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "snapshotID")
	if err := s.History.Rollback(r.Context(), p, id, s.Registry.LoadOptions()); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"rolled_back_to": id})
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.History.Delete(r.Context(), snap.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
