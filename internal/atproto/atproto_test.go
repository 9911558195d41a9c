package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryResolvePLC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/did:plc:abc123", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"did:plc:abc123","alsoKnownAs":["at://acme.bsky.social"]}`))
	}))
	defer server.Close()

	doc, err := NewDirectory(server.URL, server.Client()).Resolve(context.Background(), "did:plc:abc123")
	require.NoError(t, err)
	handle, ok := doc.Handle()
	require.True(t, ok)
	require.Equal(t, "acme.bsky.social", handle)
}

func TestDirectoryResolveNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"DID not registered"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewDirectory(server.URL, nil).Resolve(context.Background(), "did:plc:missing")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Equal(t, http.StatusNotFound, lookupErr.StatusCode)
	require.Equal(t, "did did:plc:missing not found", lookupErr.Error())
}

func TestDirectoryResolveUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	_, err := NewDirectory(baseURL, nil).Resolve(context.Background(), "did:plc:abc")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.NotNil(t, errors.Unwrap(lookupErr))
}

func TestDirectoryResolveDIDWeb(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/did.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"did:web:example","alsoKnownAs":["at://example.com"]}`))
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	dir := NewDirectory("", server.Client())
	dir.webScheme = "http"
	doc, err := dir.Resolve(context.Background(), "did:web:"+strings.ReplaceAll(host, ":", "%3A"))
	require.NoError(t, err)
	require.Equal(t, []string{"at://example.com"}, doc.AlsoKnownAs)
}

func TestDirectoryRejectsUnsupportedMethods(t *testing.T) {
	dir := NewDirectory("", nil)
	for _, did := range []string{"did:key:z6Mk", "did:web:example.com:user:alice", "acme.bsky.social"} {
		_, err := dir.Resolve(context.Background(), did)
		var lookupErr *LookupError
		require.ErrorAs(t, err, &lookupErr, did)
	}
}

func TestDocumentHandle(t *testing.T) {
	_, ok := Document{}.Handle()
	require.False(t, ok)
	handle, ok := Document{AlsoKnownAs: []string{"  ", "at://second.example"}}.Handle()
	require.True(t, ok)
	require.Equal(t, "second.example", handle)
}

func TestClientSessionAndRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "acme.bsky.social", body["identifier"])
			_, _ = w.Write([]byte(`{"did":"did:plc:me","handle":"acme.bsky.social","accessJwt":"jwt"}`))
		case "/xrpc/com.atproto.identity.resolveHandle":
			require.Equal(t, "friend.bsky.social", r.URL.Query().Get("handle"))
			_, _ = w.Write([]byte(`{"did":"did:plc:friend"}`))
		case "/xrpc/com.atproto.repo.uploadBlob":
			require.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
			require.Equal(t, "image/png", r.Header.Get("Content-Type"))
			data, _ := io.ReadAll(r.Body)
			require.Equal(t, "png-bytes", string(data))
			_, _ = w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"bafk"},"mimeType":"image/png","size":9}}`))
		case "/xrpc/com.atproto.repo.createRecord":
			require.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "did:plc:me", body["repo"])
			require.Equal(t, "app.bsky.feed.post", body["collection"])
			_, _ = w.Write([]byte(`{"uri":"at://did:plc:me/app.bsky.feed.post/1","cid":"cid1"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	ctx := context.Background()

	_, err := client.CreateRecord(ctx, "app.bsky.feed.post", map[string]any{})
	require.Error(t, err)

	session, err := client.CreateSession(ctx, "acme.bsky.social", "app-password")
	require.NoError(t, err)
	require.Equal(t, "did:plc:me", session.DID)

	did, err := client.ResolveHandle(ctx, "@friend.bsky.social")
	require.NoError(t, err)
	require.Equal(t, "did:plc:friend", did)

	blob, err := client.UploadBlob(ctx, []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "bafk", blob.Ref.Link)

	ref, err := client.CreateRecord(ctx, "app.bsky.feed.post", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Equal(t, "cid1", ref.CID)
}

func TestClientXRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil).CreateSession(context.Background(), "x", "y")
	var xerr *XRPCError
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, http.StatusUnauthorized, xerr.StatusCode)
	require.Equal(t, "AuthenticationRequired", xerr.Code)
	require.Equal(t, "com.atproto.server.createSession", xerr.Method)
}
