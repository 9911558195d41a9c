package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/mentions"
)

const maxMediaBytes = 10 << 20

type draftRequest struct {
	Text string `json:"text"`
}

type uploadedMedia struct {
	Data        []byte
	ContentType string
}

func (s *Server) createDrafts(w http.ResponseWriter, r *http.Request) {
	text, media, err := readDraftRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(text) == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	if s.drafts == nil {
		http.Error(w, "drafting unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := prepareSSE(w)
	if !ok {
		return
	}

	req := mentions.Request{Text: s.applyUTMRules(currentUser(r.Context()), text)}
	if media != nil {
		req.Media = media.Data
		req.MediaType = media.ContentType
	}
	ctx := r.Context()
	stream := s.drafts.Generate(ctx, req)
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-stream.Events():
			if !ok {
				return
			}
			sendDraftEvent(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendDraftEvent(w http.ResponseWriter, event events.Event) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\n", event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// readDraftRequest accepts ?text= on GET, and a JSON body or a multipart form
// with a "text" field and optional "media" file on POST.
func readDraftRequest(r *http.Request) (string, *uploadedMedia, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("text"), nil, nil
	}
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxMediaBytes); err != nil {
			return "", nil, errors.New("invalid multipart form")
		}
		media, err := readMedia(r)
		if err != nil {
			return "", nil, err
		}
		return r.FormValue("text"), media, nil
	}
	var req draftRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMediaBytes)).Decode(&req); err != nil {
		return "", nil, errors.New("invalid request")
	}
	return req.Text, nil, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readMedia returns the optional "media" file of a parsed multipart form.
func readMedia(r *http.Request) (*uploadedMedia, error) {
	file, header, err := r.FormFile("media")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("invalid media upload")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxMediaBytes+1))
	if err != nil {
		return nil, errors.New("invalid media upload")
	}
	if len(data) > maxMediaBytes {
		return nil, errors.New("media too large")
	}
	if len(data) == 0 {
		return nil, nil
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &uploadedMedia{Data: data, ContentType: contentType}, nil
}
