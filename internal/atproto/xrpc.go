package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultServiceURL = "https://bsky.social"

// XRPCError is a non-2xx reply from a PDS.
type XRPCError struct {
	Method     string `json:"-"`
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *XRPCError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("xrpc %s: %d %s: %s", e.Method, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("xrpc %s: status %d", e.Method, e.StatusCode)
}

type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// Blob is the reference returned by uploadBlob and embedded verbatim in records.
type Blob struct {
	Type     string `json:"$type"`
	Ref      Link   `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Link struct {
	Link string `json:"$link"`
}

type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) CreateSession(ctx context.Context, identifier string, password string) (*Session, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var session Session
	if err := c.procedure(ctx, "com.atproto.server.createSession", body, &session, false); err != nil {
		return nil, err
	}
	c.session = &session
	return &session, nil
}

func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("handle", strings.TrimPrefix(handle, "@"))
	var out struct {
		DID string `json:"did"`
	}
	if err := c.query(ctx, "com.atproto.identity.resolveHandle", params, &out); err != nil {
		return "", err
	}
	return out.DID, nil
}

func (c *Client) UploadBlob(ctx context.Context, data []byte, contentType string) (Blob, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "com.atproto.repo.uploadBlob", nil, bytes.NewReader(data), true)
	if err != nil {
		return Blob{}, err
	}
	req.Header.Set("Content-Type", contentType)
	var out struct {
		Blob Blob `json:"blob"`
	}
	if err := c.do(req, "com.atproto.repo.uploadBlob", &out); err != nil {
		return Blob{}, err
	}
	return out.Blob, nil
}

func (c *Client) CreateRecord(ctx context.Context, collection string, record any) (RecordRef, error) {
	if c.session == nil {
		return RecordRef{}, fmt.Errorf("xrpc createRecord: no session")
	}
	body := map[string]any{
		"repo":       c.session.DID,
		"collection": collection,
		"record":     record,
	}
	var ref RecordRef
	if err := c.procedure(ctx, "com.atproto.repo.createRecord", body, &ref, true); err != nil {
		return RecordRef{}, err
	}
	return ref, nil
}

func (c *Client) query(ctx context.Context, method string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, method, params, nil, c.session != nil)
	if err != nil {
		return err
	}
	return c.do(req, method, out)
}

func (c *Client) procedure(ctx context.Context, method string, body any, out any, authed bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("xrpc %s: encode: %w", method, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, method, nil, bytes.NewReader(payload), authed)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) newRequest(ctx context.Context, httpMethod string, method string, params url.Values, body io.Reader, authed bool) (*http.Request, error) {
	target := c.baseURL + "/xrpc/" + method
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, target, body)
	if err != nil {
		return nil, fmt.Errorf("xrpc %s: %w", method, err)
	}
	if authed {
		if c.session == nil {
			return nil, fmt.Errorf("xrpc %s: no session", method)
		}
		req.Header.Set("Authorization", "Bearer "+c.session.AccessJwt)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("xrpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		xerr := &XRPCError{Method: method, StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(xerr)
		return xerr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("xrpc %s: decode: %w", method, err)
	}
	return nil
}
