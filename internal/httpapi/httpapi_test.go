package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/config"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/generator"
	"github.com/xkilldash9x/plotweave/internal/history"
	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/live"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/statediff"
	"github.com/xkilldash9x/plotweave/internal/statemachine"
	"github.com/xkilldash9x/plotweave/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type client struct {
	t       *testing.T
	handler http.Handler
	hub     *live.Hub
}

func newClient(t *testing.T) *client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.NewMemory()
	metrics := observability.NewMetrics("pw")
	hub := live.NewHub(logger)
	t.Cleanup(hub.Close)
	h := history.NewManager(st, history.Options{}, metrics, logger)
	r := project.NewRegistry(logger, project.WithStore(st), project.WithRecorder(h),
		project.WithObserver(metrics), project.WithListener(hub))
	gen := generator.NewOffline()

	srv := NewServer(Deps{
		Registry: r,
		Editor:   editor.New(r, gen, editor.Config{AllowSelfLoops: true}, logger),
		Machine:  statemachine.New(r, gen, logger),
		History:  h,
		Exporter: interchange.NewExporter(logger),
		Importer: interchange.NewImporter(r, logger),
		Live:     hub,
		Metrics:  metrics,
	}, logger)
	return &client{t: t, handler: srv.Routes(), hub: hub}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *client) decode(rec *httptest.ResponseRecorder, v any) {
	c.t.Helper()
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (c *client) errorKind(rec *httptest.ResponseRecorder) schemas.ErrorKind {
	c.t.Helper()
	var body ErrorBody
	c.decode(rec, &body)
	return body.Error.Kind
}

func TestProjects(t *testing.T) {
	c := newClient(t)

	rec := c.do(http.MethodPost, "/api/v1/projects", map[string]string{"id": "p1", "name": "Harbour"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/projects", map[string]string{"id": "p1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, schemas.KindDuplicateID, c.errorKind(rec))

	rec = c.do(http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []project.Summary
	c.decode(rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Harbour", list[0].Name)

	rec = c.do(http.MethodDelete, "/api/v1/projects/p1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = c.do(http.MethodGet, "/api/v1/projects/p1/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoryFlow(t *testing.T) {
	c := newClient(t)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/projects", map[string]string{"id": "p1"}).Code)

	rec := c.do(http.MethodPost, "/api/v1/projects/p1/bootstrap", map[string]string{"idea": "a storm at sea"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var root schemas.Node
	c.decode(rec, &root)
	assert.Equal(t, schemas.NodeRoot, root.NodeType)

	rec = c.do(http.MethodGet, "/api/v1/projects/p1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess statemachine.Session
	c.decode(rec, &sess)
	assert.Equal(t, root.ID, sess.CurrentNodeID)

	rec = c.do(http.MethodGet, "/api/v1/projects/p1/nodes/"+root.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail editor.NodeDetail
	c.decode(rec, &detail)
	var pressOn string
	for _, a := range detail.Actions {
		if a.Description == "Press on" {
			pressOn = a.ID
		}
	}
	require.NotEmpty(t, pressOn)

	t.Run("should advance the reader", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/projects/p1/play", map[string]string{"action_id": pressOn})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out statemachine.Outcome
		c.decode(rec, &out)
		require.NotNil(t, out.Next)
		assert.Contains(t, out.Next.Scene, "press on")
	})

	t.Run("should edit and roll back", func(t *testing.T) {
		rec := c.do(http.MethodPut, "/api/v1/projects/p1/nodes/"+root.ID+"/scene", map[string]string{"scene": "Calm waters."})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var snaps []schemas.Snapshot
		c.decode(rec, &snaps)
		require.NotEmpty(t, snaps)
		last := snaps[len(snaps)-1]
		assert.Equal(t, schemas.OpEditScene, last.OperationType)

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/history/"+last.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/history/"+last.ID+"/diff?ignore=action_history", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var diff statediff.Result
		c.decode(rec, &diff)
		assert.Equal(t, []string{root.ID}, diff.Nodes.Changed)
		assert.Contains(t, diff.Diff, "Calm waters.")

		rec = c.do(http.MethodPost, "/api/v1/projects/p1/history/"+last.ID+"/rollback", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/nodes/"+root.ID, nil)
		c.decode(rec, &detail)
		assert.NotEqual(t, "Calm waters.", detail.Node.Scene)
	})

	t.Run("should report the graph", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/v1/projects/p1/validate", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ok":true`)

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/overview", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"start_node_id":"`+root.ID+`"`)
	})

	t.Run("should export and import", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/v1/projects/p1/export?format=yaml", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

		rec = c.do(http.MethodPost, "/api/v1/projects/import?format=yaml&id=copy", rec.Body.String())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = c.do(http.MethodGet, "/api/v1/projects/copy/nodes/"+root.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = c.do(http.MethodGet, "/api/v1/projects/p1/export?format=graphml", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<graphml")
	})

	t.Run("should expose route metrics", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `route="/api/v1/projects/{projectID}/bootstrap"`)
		assert.Contains(t, body, "pw_mutations_total")
		assert.Contains(t, body, "pw_snapshots_recorded_total")
	})
}

func TestLiveFeed(t *testing.T) {
	c := newClient(t)
	srv := httptest.NewServer(c.handler)
	defer srv.Close()
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/projects", map[string]string{"id": "p1"}).Code)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/projects/"

	t.Run("should refuse unknown projects", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"nope/live", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("should push committed mutations", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"p1/live", nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var msg live.Message
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, live.MsgTypeSubscribed, msg.Type)

		rec := c.do(http.MethodPost, "/api/v1/projects/p1/bootstrap", map[string]string{"idea": "a lighthouse"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var root schemas.Node
		c.decode(rec, &root)

		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, live.MsgTypeProjectChanged, msg.Type)
		require.NotNil(t, msg.Change)
		assert.Equal(t, schemas.OpBootstrap, msg.Change.Op)
		assert.Equal(t, root.ID, msg.Change.AffectedNodeID)
		assert.NotEmpty(t, msg.Change.SnapshotID)

		c.hub.Close()
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	})
}

func TestRequestErrors(t *testing.T) {
	c := newClient(t)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/projects", map[string]string{"id": "p1"}).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   schemas.ErrorKind
	}{
		{"malformed body", http.MethodPost, "/api/v1/projects/p1/bootstrap", "{", http.StatusBadRequest, schemas.KindInvalidInput},
		{"empty body", http.MethodPost, "/api/v1/projects/p1/bootstrap", nil, http.StatusBadRequest, schemas.KindInvalidInput},
		{"missing field", http.MethodPost, "/api/v1/projects/p1/play", map[string]string{}, http.StatusBadRequest, schemas.KindInvalidInput},
		{"unknown node", http.MethodGet, "/api/v1/projects/p1/nodes/nope", nil, http.StatusNotFound, schemas.KindNotFound},
		{"unknown action", http.MethodDelete, "/api/v1/projects/p1/actions/nope", nil, http.StatusNotFound, schemas.KindActionNotFound},
		{"unknown snapshot", http.MethodPost, "/api/v1/projects/p1/history/nope/rollback", nil, http.StatusNotFound, schemas.KindSnapshotNotFound},
		{"bad part", http.MethodPost, "/api/v1/projects/p1/nodes/x/regenerate", map[string]string{"part": "title"}, http.StatusBadRequest, schemas.KindInvalidInput},
		{"bad format", http.MethodGet, "/api/v1/projects/p1/export?format=csv", nil, http.StatusBadRequest, schemas.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			rec := c.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, c.errorKind(rec))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{schemas.NewNotFoundError("op", "x", "node"), http.StatusNotFound},
		{schemas.NewDuplicateIDError("op", "x", "node"), http.StatusConflict},
		{schemas.NewValidationError("op", schemas.DanglingReference, "x", "gone"), http.StatusUnprocessableEntity},
		{schemas.NewSelfLoopError("op", "x"), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", schemas.NewGenerationError("op", errors.New("boom"))), http.StatusBadGateway},
		{schemas.NewProjectMismatchError("op", "s", "a", "b"), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, config.ServerConfig{ReadTimeout: time.Second, WriteTimeout: time.Second}, newClient(t).handler, zaptest.NewLogger(t))
	}()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	http.DefaultClient.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
