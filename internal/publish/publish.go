package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/platform"
)

// Media is an optional image attached to a post.
type Media struct {
	Data        []byte
	ContentType string
	Alt         string
}

func (m *Media) contentType() string {
	if m.ContentType != "" {
		return m.ContentType
	}
	return http.DetectContentType(m.Data)
}

type Receipt struct {
	Platform platform.Platform `json:"platform"`
	ID       string            `json:"id"`
	URL      string            `json:"url,omitempty"`
}

type Publisher interface {
	Post(ctx context.Context, text string, media *Media) (Receipt, error)
}

// APIError is a non-success reply from a platform API.
type APIError struct {
	Platform   platform.Platform
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s failed with status %d", e.Platform, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Platform, e.Operation, e.StatusCode, e.Body)
}

type Options struct {
	HTTPClient        *http.Client
	Logger            *zap.Logger
	TwitterAPIURL     string
	TwitterUploadURL  string
	LinkedInAPIURL    string
	BlueskyServiceURL string
	// Organization overrides the LinkedIn author stored with the credentials.
	Organization string
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func New(p platform.Platform, bundle credentials.Bundle, opts Options) (Publisher, error) {
	if err := bundle.Validate(p); err != nil {
		return nil, err
	}
	switch p {
	case platform.Twitter:
		return NewTwitter(bundle.AccessToken, opts), nil
	case platform.LinkedIn:
		organization := strings.TrimSpace(opts.Organization)
		if organization == "" {
			organization = bundle.Organization
		}
		return NewLinkedIn(bundle.AccessToken, organization, opts), nil
	case platform.Bluesky:
		return NewBluesky(bundle.Identifier, bundle.Password, opts), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
}

func readAPIError(resp *http.Response, p platform.Platform, operation string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Platform:   p,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
