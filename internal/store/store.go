package store

import (
	"context"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	Email                string
	UTMRules             string
	LinkedInOrganization string
	CreatedAt            string
	UpdatedAt            string
}

// Credential holds one platform's sealed credential bundle for a user.
type Credential struct {
	UserEmail string
	Platform  string
	Secret    string
	CreatedAt string
	UpdatedAt string
}

type PublishJob struct {
	ID        string
	UserEmail string
	Status    string
	Platforms []string
	CreatedAt string
	UpdatedAt string
}

type JobEvent struct {
	JobID     string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

type Store interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, email string) (*User, error)
	SetUTMRules(ctx context.Context, email string, rules string) error
	SetLinkedInOrganization(ctx context.Context, email string, organization string) error
	UpsertCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, email string, platform string) (*Credential, error)
	DeleteCredential(ctx context.Context, email string, platform string) error
	ListCredentialPlatforms(ctx context.Context, email string) ([]string, error)
	CreatePublishJob(ctx context.Context, job PublishJob) error
	GetPublishJob(ctx context.Context, jobID string) (*PublishJob, error)
	AppendJobEvent(ctx context.Context, event JobEvent) error
	ListJobEvents(ctx context.Context, jobID string, afterSeq int64) ([]JobEvent, error)
	NextJobSeq(ctx context.Context, jobID string) (int64, error)
}
