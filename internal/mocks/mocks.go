// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Storage() config.StorageConfig {
	args := m.Called()
	return args.Get(0).(config.StorageConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Generator() config.GeneratorConfig {
	args := m.Called()
	return args.Get(0).(config.GeneratorConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetStorageDriver(d string) {
	m.Called(d)
}

func (m *MockConfig) SetGeneratorProvider(p string) {
	m.Called(p)
}

func (m *MockConfig) SetServerAddr(a string) {
	m.Called(a)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return m.Called().Error(0) }

// -- Content Generator Mock --

// MockContentGenerator mocks the schemas.ContentGenerator interface.
type MockContentGenerator struct {
	mock.Mock
}

func (m *MockContentGenerator) GenerateScene(ctx context.Context, prompt string, gctx schemas.Document) (string, error) {
	args := m.Called(ctx, prompt, gctx)
	return args.String(0), args.Error(1)
}

func (m *MockContentGenerator) GenerateEvents(ctx context.Context, scene string, gctx schemas.Document) ([]schemas.EventDraft, error) {
	args := m.Called(ctx, scene, gctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.EventDraft), args.Error(1)
}

func (m *MockContentGenerator) GenerateActions(ctx context.Context, scene string, gctx schemas.Document, state schemas.WorldState) ([]schemas.ActionDraft, error) {
	args := m.Called(ctx, scene, gctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.ActionDraft), args.Error(1)
}

func (m *MockContentGenerator) GenerateNextNode(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (*schemas.NodeDraft, error) {
	args := m.Called(ctx, node, action, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.NodeDraft), args.Error(1)
}

func (m *MockContentGenerator) GenerateResponse(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (string, error) {
	args := m.Called(ctx, node, action, state)
	return args.String(0), args.Error(1)
}

// -- Store Mock --

// MockStore mocks the schemas.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveProject(ctx context.Context, rec schemas.ProjectRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStore) LoadProject(ctx context.Context, id string) (*schemas.ProjectRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ProjectRecord), args.Error(1)
}

func (m *MockStore) ListProjects(ctx context.Context) ([]schemas.ProjectRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.ProjectRecord), args.Error(1)
}

func (m *MockStore) DeleteProject(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) PutSnapshot(ctx context.Context, snap schemas.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *MockStore) GetSnapshot(ctx context.Context, id string) (*schemas.Snapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Snapshot), args.Error(1)
}

func (m *MockStore) ListSnapshots(ctx context.Context, projectID string) ([]schemas.Snapshot, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Snapshot), args.Error(1)
}

func (m *MockStore) DeleteSnapshot(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) DeleteSnapshotsFrom(ctx context.Context, projectID, id string) (int, error) {
	args := m.Called(ctx, projectID, id)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

// -- Scripted Generator --

// ScriptedGenerator is a ContentGenerator whose next-node drafts come from a
// queue. It counts calls so tests can assert nothing was generated.
type ScriptedGenerator struct {
	mu       sync.Mutex
	Drafts   []*schemas.NodeDraft
	Response string
	Calls    int
}

func (s *ScriptedGenerator) next() *schemas.NodeDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if len(s.Drafts) == 0 {
		return &schemas.NodeDraft{Scene: "Nothing happens."}
	}
	d := s.Drafts[0]
	s.Drafts = s.Drafts[1:]
	return d
}

func (s *ScriptedGenerator) GenerateScene(_ context.Context, prompt string, _ schemas.Document) (string, error) {
	return s.next().Scene, nil
}

func (s *ScriptedGenerator) GenerateEvents(context.Context, string, schemas.Document) ([]schemas.EventDraft, error) {
	return s.next().Events, nil
}

func (s *ScriptedGenerator) GenerateActions(context.Context, string, schemas.Document, schemas.WorldState) ([]schemas.ActionDraft, error) {
	return s.next().Actions, nil
}

func (s *ScriptedGenerator) GenerateNextNode(context.Context, *schemas.Node, *schemas.Action, schemas.WorldState) (*schemas.NodeDraft, error) {
	return s.next(), nil
}

func (s *ScriptedGenerator) GenerateResponse(context.Context, *schemas.Node, *schemas.Action, schemas.WorldState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	return s.Response, nil
}

var (
	_ config.Interface         = (*MockConfig)(nil)
	_ schemas.LLMClient        = (*MockLLMClient)(nil)
	_ schemas.ContentGenerator = (*MockContentGenerator)(nil)
	_ schemas.ContentGenerator = (*ScriptedGenerator)(nil)
	_ schemas.Store            = (*MockStore)(nil)
)
