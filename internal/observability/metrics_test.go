package observability

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

func TestMetrics(t *testing.T) {
	t.Run("should count mutations by outcome", func(t *testing.T) {
		m := NewMetrics("pw")
		m.ObserveMutation(schemas.OpCreateNode, time.Millisecond, nil)
		m.ObserveMutation(schemas.OpCreateNode, time.Millisecond, nil)
		m.ObserveMutation(schemas.OpCreateNode, time.Millisecond, fmt.Errorf("wrap: %w", schemas.ErrInvalidInput))
		m.ObserveMutation(schemas.OpCreateNode, time.Millisecond, errors.New("disk full"))

		assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues(string(schemas.OpCreateNode), "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues(string(schemas.OpCreateNode), "invalid_input")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues(string(schemas.OpCreateNode), "error")))
	})

	t.Run("should track history", func(t *testing.T) {
		m := NewMetrics("pw")
		m.SnapshotRecorded(1024)
		m.SnapshotRecorded(2048)
		m.SnapshotsPruned(1)
		m.RolledBack(4)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.snapshots))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.pruned))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks))
		assert.Equal(t, 4.0, testutil.ToFloat64(m.discarded))
	})

	t.Run("should expose one breaker state at a time", func(t *testing.T) {
		m := NewMetrics("pw")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("closed")))

		m.BreakerStateChanged("open")
		assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("closed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("open")))
	})

	t.Run("should count generations", func(t *testing.T) {
		m := NewMetrics("pw")
		m.GenerationFinished("next_node", time.Second, nil)
		m.GenerationFinished("next_node", time.Second, errors.New("boom"))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("next_node", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("next_node", "error")))
	})

	t.Run("should serve the exposition format", func(t *testing.T) {
		m := NewMetrics("pw")
		m.ObserveHTTP(http.MethodGet, "/projects/{id}", http.StatusOK, time.Millisecond)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.True(t, strings.Contains(body, `pw_http_requests_total{method="GET",route="/projects/{id}",status="200"} 1`), body)
		assert.Contains(t, body, "go_goroutines")
	})
}
