package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/crossposter/crossposter/internal/config"
	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/mentions"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/workflows"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) UpsertUser(ctx context.Context, email string) (*store.User, error) {
	args := m.Called(ctx, email)
	if value := args.Get(0); value != nil {
		return value.(*store.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, email string) (*store.User, error) {
	args := m.Called(ctx, email)
	if value := args.Get(0); value != nil {
		return value.(*store.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) SetUTMRules(ctx context.Context, email string, rules string) error {
	args := m.Called(ctx, email, rules)
	return args.Error(0)
}

func (m *MockStore) SetLinkedInOrganization(ctx context.Context, email string, organization string) error {
	args := m.Called(ctx, email, organization)
	return args.Error(0)
}

func (m *MockStore) UpsertCredential(ctx context.Context, credential store.Credential) error {
	args := m.Called(ctx, credential)
	return args.Error(0)
}

func (m *MockStore) GetCredential(ctx context.Context, email string, platform string) (*store.Credential, error) {
	args := m.Called(ctx, email, platform)
	if value := args.Get(0); value != nil {
		return value.(*store.Credential), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) DeleteCredential(ctx context.Context, email string, platform string) error {
	args := m.Called(ctx, email, platform)
	return args.Error(0)
}

func (m *MockStore) ListCredentialPlatforms(ctx context.Context, email string) ([]string, error) {
	args := m.Called(ctx, email)
	var result []string
	if value := args.Get(0); value != nil {
		result = value.([]string)
	}
	return result, args.Error(1)
}

func (m *MockStore) CreatePublishJob(ctx context.Context, job store.PublishJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockStore) GetPublishJob(ctx context.Context, jobID string) (*store.PublishJob, error) {
	args := m.Called(ctx, jobID)
	if value := args.Get(0); value != nil {
		return value.(*store.PublishJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) AppendJobEvent(ctx context.Context, event store.JobEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListJobEvents(ctx context.Context, jobID string, afterSeq int64) ([]store.JobEvent, error) {
	args := m.Called(ctx, jobID, afterSeq)
	var result []store.JobEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.JobEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextJobSeq(ctx context.Context, jobID string) (int64, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(int64), args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.JobEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, jobID string) <-chan events.JobEvent {
	args := m.Called(ctx, jobID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.JobEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.JobEvent); ok {
			return ch
		}
	}
	return nil
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartPublish(ctx context.Context, input workflows.PublishInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

type MockCredentials struct {
	mock.Mock
}

func (m *MockCredentials) Save(ctx context.Context, email string, p platform.Platform, bundle credentials.Bundle) error {
	args := m.Called(ctx, email, p, bundle)
	return args.Error(0)
}

func (m *MockCredentials) Delete(ctx context.Context, email string, p platform.Platform) error {
	args := m.Called(ctx, email, p)
	return args.Error(0)
}

func (m *MockCredentials) Connected(ctx context.Context, email string) (map[platform.Platform]bool, error) {
	args := m.Called(ctx, email)
	var result map[platform.Platform]bool
	if value := args.Get(0); value != nil {
		result = value.(map[platform.Platform]bool)
	}
	return result, args.Error(1)
}

// scriptedDrafts replays a fixed list of progress messages and then either
// completes with result or fails with err.
type scriptedDrafts struct {
	messages []string
	result   map[string]string
	err      error
	requests chan mentions.Request
}

func (d *scriptedDrafts) Generate(ctx context.Context, req mentions.Request) *events.Stream {
	if d.requests != nil {
		d.requests <- req
	}
	stream := events.NewStream(ctx)
	for _, message := range d.messages {
		stream.Emit(message)
	}
	if d.err != nil {
		stream.Fail(d.err)
	} else {
		stream.Complete(d.result, map[string]map[string]*string{})
	}
	return stream
}

const testEmail = "ada@example.com"

func testUser() *store.User {
	return &store.User{Email: testEmail}
}

// expectUser satisfies the identity middleware for one request.
func expectUser(storeMock *MockStore, user *store.User) {
	storeMock.On("UpsertUser", mock.Anything, user.Email).Return(user, nil).Once()
}

func newTestServer(t *testing.T, deps Dependencies, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(deps, cfg)
	return httptest.NewServer(server.Router())
}
