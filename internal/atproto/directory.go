package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultDirectoryURL = "https://plc.directory"

// Document is the subset of a DID document the mention resolver needs.
type Document struct {
	ID          string   `json:"id"`
	AlsoKnownAs []string `json:"alsoKnownAs"`
}

// Handle returns the first alsoKnownAs entry without its at:// prefix.
func (d Document) Handle() (string, bool) {
	for _, aka := range d.AlsoKnownAs {
		handle := strings.TrimSpace(strings.TrimPrefix(aka, "at://"))
		if handle != "" {
			return handle, true
		}
	}
	return "", false
}

type LookupError struct {
	DID        string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("did %s not found", e.DID)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("lookup %s failed with status %d", e.DID, e.StatusCode)
	}
	return fmt.Sprintf("lookup %s failed: %v", e.DID, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

type Directory struct {
	baseURL string
	client  *http.Client
	// webScheme is "https" outside tests.
	webScheme string
}

func NewDirectory(baseURL string, client *http.Client) *Directory {
	if baseURL == "" {
		baseURL = DefaultDirectoryURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Directory{baseURL: strings.TrimRight(baseURL, "/"), client: client, webScheme: "https"}
}

func (d *Directory) Resolve(ctx context.Context, did string) (Document, error) {
	did = strings.TrimSpace(did)
	var target string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		target = d.baseURL + "/" + url.PathEscape(did)
	case strings.HasPrefix(did, "did:web:"):
		id := strings.TrimPrefix(did, "did:web:")
		// Path-based did:web identifiers are not used for accounts.
		if strings.Contains(id, ":") {
			return Document{}, &LookupError{DID: did, Err: errors.New("unsupported did:web identifier")}
		}
		host, err := url.PathUnescape(id)
		if err != nil || host == "" {
			return Document{}, &LookupError{DID: did, Err: errors.New("invalid did:web identifier")}
		}
		target = d.webScheme + "://" + host + "/.well-known/did.json"
	default:
		return Document{}, &LookupError{DID: did, Err: errors.New("unsupported did method")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Document{}, &LookupError{DID: did, Err: err}
	}
	req.Header.Set("Accept", "application/did+ld+json, application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return Document{}, &LookupError{DID: did, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Document{}, &LookupError{DID: did, StatusCode: resp.StatusCode}
	}
	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return Document{}, &LookupError{DID: did, Err: fmt.Errorf("decode did document: %w", err)}
	}
	return doc, nil
}
