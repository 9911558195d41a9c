package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crossposter/crossposter/internal/store"
)

type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]store.User
	credentials map[string]map[string]store.Credential
	jobs        map[string]store.PublishJob
	events      map[string][]store.JobEvent
	seq         map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		users:       map[string]store.User{},
		credentials: map[string]map[string]store.Credential{},
		jobs:        map[string]store.PublishJob{},
		events:      map[string][]store.JobEvent{},
		seq:         map[string]int64{},
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		ts := now()
		user = store.User{Email: email, CreatedAt: ts, UpdatedAt: ts}
		m.users[email] = user
	}
	return &user, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, email string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryStore) SetUTMRules(ctx context.Context, email string, rules string) error {
	return m.updateUser(email, func(user *store.User) { user.UTMRules = rules })
}

func (m *MemoryStore) SetLinkedInOrganization(ctx context.Context, email string, organization string) error {
	return m.updateUser(email, func(user *store.User) { user.LinkedInOrganization = strings.TrimSpace(organization) })
}

func (m *MemoryStore) updateUser(email string, apply func(*store.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		return store.ErrUserNotFound
	}
	apply(&user)
	user.UpdatedAt = now()
	m.users[email] = user
	return nil
}

func (m *MemoryStore) UpsertCredential(ctx context.Context, credential store.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPlatform := m.credentials[credential.UserEmail]
	if byPlatform == nil {
		byPlatform = map[string]store.Credential{}
		m.credentials[credential.UserEmail] = byPlatform
	}
	ts := now()
	if existing, ok := byPlatform[credential.Platform]; ok {
		credential.CreatedAt = existing.CreatedAt
	} else if credential.CreatedAt == "" {
		credential.CreatedAt = ts
	}
	if credential.UpdatedAt == "" {
		credential.UpdatedAt = ts
	}
	byPlatform[credential.Platform] = credential
	return nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, email string, platform string) (*store.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	credential, ok := m.credentials[email][platform]
	if !ok {
		return nil, nil
	}
	return &credential, nil
}

func (m *MemoryStore) DeleteCredential(ctx context.Context, email string, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials[email], platform)
	return nil
}

func (m *MemoryStore) ListCredentialPlatforms(ctx context.Context, email string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	platforms := make([]string, 0, len(m.credentials[email]))
	for platform := range m.credentials[email] {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms, nil
}

func (m *MemoryStore) CreatePublishJob(ctx context.Context, job store.PublishJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(job.Status) == "" {
		job.Status = store.JobStatusQueued
	}
	if job.CreatedAt == "" {
		job.CreatedAt = now()
	}
	if job.UpdatedAt == "" {
		job.UpdatedAt = job.CreatedAt
	}
	job.Platforms = append([]string{}, job.Platforms...)
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) GetPublishJob(ctx context.Context, jobID string) (*store.PublishJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	job.Platforms = append([]string{}, job.Platforms...)
	return &job, nil
}

func (m *MemoryStore) AppendJobEvent(ctx context.Context, event store.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Timestamp == "" {
		event.Timestamp = now()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	m.events[event.JobID] = append(m.events[event.JobID], event)
	if status, ok := store.JobStatusFromEvent(event); ok {
		if job, exists := m.jobs[event.JobID]; exists {
			job.Status = status
			job.UpdatedAt = event.Timestamp
			m.jobs[event.JobID] = job
		}
	}
	return nil
}

func (m *MemoryStore) ListJobEvents(ctx context.Context, jobID string, afterSeq int64) ([]store.JobEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filtered := []store.JobEvent{}
	for _, event := range m.events[jobID] {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Seq < filtered[j].Seq })
	return filtered, nil
}

func (m *MemoryStore) NextJobSeq(ctx context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[jobID] += 1
	return m.seq[jobID], nil
}
