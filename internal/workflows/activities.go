package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/publish"
	"github.com/crossposter/crossposter/internal/store"
)

const eventSource = "worker"

type Post struct {
	Platform platform.Platform `json:"platform"`
	Text     string            `json:"text"`
}

type Media struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type,omitempty"`
	Alt         string `json:"alt,omitempty"`
}

type PlatformInput struct {
	JobID     string
	UserEmail string
	Post      Post
	Media     *Media
}

type JobEventInput struct {
	JobID   string
	Type    string
	Payload map[string]any
}

type CredentialLoader interface {
	Load(ctx context.Context, email string, p platform.Platform) (credentials.Bundle, error)
}

type PublisherFactory func(p platform.Platform, bundle credentials.Bundle, opts publish.Options) (publish.Publisher, error)

type PublishActivities struct {
	store          store.Store
	credentials    CredentialLoader
	newPublisher   PublisherFactory
	publishOptions publish.Options
	controlPlane   string
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *zap.Logger
}

type PublishActivitiesOption func(*PublishActivities)

func WithPublisherFactory(factory PublisherFactory) PublishActivitiesOption {
	return func(a *PublishActivities) {
		if factory != nil {
			a.newPublisher = factory
		}
	}
}

func WithActivitiesLogger(logger *zap.Logger) PublishActivitiesOption {
	return func(a *PublishActivities) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewPublishActivities(store store.Store, creds CredentialLoader, publishOptions publish.Options, controlPlaneURL string, opts ...PublishActivitiesOption) *PublishActivities {
	activities := &PublishActivities{
		store:          store,
		credentials:    creds,
		newPublisher:   publish.New,
		publishOptions: publishOptions,
		controlPlane:   strings.TrimRight(controlPlaneURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		requestTimeout: 10 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	return activities
}

// PublishToPlatform posts one draft with the user's stored credentials and
// reports the outcome as a job event. Failures are never retried.
func (a *PublishActivities) PublishToPlatform(ctx context.Context, input PlatformInput) (publish.Receipt, error) {
	if strings.TrimSpace(input.JobID) == "" {
		return publish.Receipt{}, temporal.NewNonRetryableApplicationError("job_id required", "InvalidInput", nil)
	}
	p := input.Post.Platform
	receipt, err := a.post(ctx, input)
	if err != nil {
		a.logger.Warn("publish failed",
			zap.String("job_id", input.JobID),
			zap.String("platform", string(p)),
			zap.Error(err),
		)
		if eventErr := a.emitEvent(ctx, input.JobID, events.JobPlatformFailed, map[string]any{
			"platform": string(p),
			"error":    err.Error(),
		}); eventErr != nil {
			a.logger.Error("failed to record publish failure", zap.String("job_id", input.JobID), zap.Error(eventErr))
		}
		return publish.Receipt{}, temporal.NewNonRetryableApplicationError(err.Error(), "PublishFailed", err)
	}

	if eventErr := a.emitEvent(ctx, input.JobID, events.JobPlatformPosted, map[string]any{
		"platform": string(p),
		"id":       receipt.ID,
		"url":      receipt.URL,
	}); eventErr != nil {
		a.logger.Error("failed to record published post", zap.String("job_id", input.JobID), zap.Error(eventErr))
	}
	return receipt, nil
}

func (a *PublishActivities) post(ctx context.Context, input PlatformInput) (publish.Receipt, error) {
	p, err := platform.Parse(string(input.Post.Platform))
	if err != nil {
		return publish.Receipt{}, err
	}
	if strings.TrimSpace(input.Post.Text) == "" {
		return publish.Receipt{}, errors.New("post text empty")
	}
	bundle, err := a.credentials.Load(ctx, input.UserEmail, p)
	if err != nil {
		return publish.Receipt{}, err
	}

	opts := a.publishOptions
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	if p == platform.LinkedIn {
		user, err := a.store.GetUser(ctx, input.UserEmail)
		if err != nil {
			return publish.Receipt{}, err
		}
		if user != nil {
			opts.Organization = user.LinkedInOrganization
		}
	}

	publisher, err := a.newPublisher(p, bundle, opts)
	if err != nil {
		return publish.Receipt{}, err
	}
	var media *publish.Media
	if input.Media != nil && len(input.Media.Data) > 0 {
		media = &publish.Media{
			Data:        input.Media.Data,
			ContentType: input.Media.ContentType,
			Alt:         input.Media.Alt,
		}
	}
	return publisher.Post(ctx, input.Post.Text, media)
}

func (a *PublishActivities) ReportJobEvent(ctx context.Context, input JobEventInput) error {
	if strings.TrimSpace(input.JobID) == "" {
		return errors.New("job_id required")
	}
	if strings.TrimSpace(input.Type) == "" {
		return errors.New("event type required")
	}
	return a.emitEvent(ctx, input.JobID, input.Type, input.Payload)
}

// emitEvent prefers the control plane so SSE subscribers see the event live,
// and falls back to writing the store directly.
func (a *PublishActivities) emitEvent(ctx context.Context, jobID string, eventType string, payload map[string]any) error {
	err := a.postEvent(ctx, jobID, eventType, payload)
	if err == nil {
		return nil
	}
	a.logger.Warn("control plane event failed, appending locally",
		zap.String("job_id", jobID),
		zap.String("type", eventType),
		zap.Error(err),
	)
	return a.appendLocalEvent(ctx, jobID, eventType, payload)
}

func (a *PublishActivities) appendLocalEvent(ctx context.Context, jobID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextJobSeq(ctx, jobID)
	if err != nil {
		return err
	}
	return a.store.AppendJobEvent(ctx, store.JobEvent{
		JobID:     jobID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    eventSource,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	})
}

func (a *PublishActivities) postEvent(ctx context.Context, jobID string, eventType string, payload map[string]any) error {
	if a.controlPlane == "" {
		return errors.New("control plane url not configured")
	}
	target := fmt.Sprintf("%s/posts/%s/events", a.controlPlane, jobID)
	body, err := json.Marshal(map[string]any{
		"type":      eventType,
		"source":    eventSource,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"trace_id":  uuid.New().String(),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane event failed: %s", resp.Status)
	}
	return nil
}
