package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/workflows"
)

const (
	controlPlaneSource = "control_plane"
	jobQueuedEvent     = "job.queued"
)

type postRequest struct {
	Posts    []workflows.Post `json:"posts"`
	MediaAlt string           `json:"media_alt"`
}

type jobResponse struct {
	JobID     string   `json:"job_id"`
	Status    string   `json:"status"`
	Platforms []string `json:"platforms,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		http.Error(w, "publishing unavailable", http.StatusServiceUnavailable)
		return
	}
	req, media, err := readPostRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	posts, err := validatePosts(req.Posts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user := currentUser(ctx)
	connected, err := s.credentials.Connected(ctx, user.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	platforms := make([]string, 0, len(posts))
	for _, post := range posts {
		if !connected[post.Platform] {
			http.Error(w, fmt.Sprintf("%s is not connected", post.Platform.DisplayName()), http.StatusConflict)
			return
		}
		platforms = append(platforms, string(post.Platform))
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	job := store.PublishJob{
		ID:        uuid.New().String(),
		UserEmail: user.Email,
		Status:    store.JobStatusQueued,
		Platforms: platforms,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePublishJob(ctx, job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.recordJobEvent(r, job.ID, jobQueuedEvent, map[string]any{"platforms": platforms})

	input := workflows.PublishInput{
		JobID:     job.ID,
		UserEmail: user.Email,
		Posts:     posts,
	}
	if media != nil {
		input.Media = &workflows.Media{Data: media.Data, ContentType: media.ContentType, Alt: strings.TrimSpace(req.MediaAlt)}
	}
	if err := s.workflows.StartPublish(ctx, input); err != nil {
		s.logger.Error("start publish workflow failed", zap.String("job_id", job.ID), zap.Error(err))
		s.recordJobEvent(r, job.ID, events.JobCompletedFailed, map[string]any{"error": err.Error(), "failures": len(posts)})
		http.Error(w, "failed to start publishing", http.StatusBadGateway)
		return
	}

	writeJSONStatus(w, jobResponse{JobID: job.ID, Status: job.Status, Platforms: platforms}, http.StatusAccepted)
}

// readPostRequest accepts a JSON body, or a multipart form whose "posts"
// field holds the JSON posts list next to an optional "media" file.
func readPostRequest(r *http.Request) (postRequest, *uploadedMedia, error) {
	var req postRequest
	if !isMultipart(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMediaBytes)).Decode(&req); err != nil {
			return postRequest{}, nil, errors.New("invalid request")
		}
		return req, nil, nil
	}
	if err := r.ParseMultipartForm(maxMediaBytes); err != nil {
		return postRequest{}, nil, errors.New("invalid multipart form")
	}
	if err := json.Unmarshal([]byte(r.FormValue("posts")), &req.Posts); err != nil {
		return postRequest{}, nil, errors.New("posts must be a JSON list")
	}
	req.MediaAlt = r.FormValue("media_alt")
	media, err := readMedia(r)
	if err != nil {
		return postRequest{}, nil, err
	}
	return req, media, nil
}

func validatePosts(posts []workflows.Post) ([]workflows.Post, error) {
	if len(posts) == 0 {
		return nil, errors.New("at least one post required")
	}
	seen := map[platform.Platform]bool{}
	out := make([]workflows.Post, 0, len(posts))
	for _, post := range posts {
		p, err := platform.Parse(string(post.Platform))
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("duplicate post for %s", p)
		}
		seen[p] = true
		if strings.TrimSpace(post.Text) == "" {
			return nil, fmt.Errorf("%s post text required", p)
		}
		out = append(out, workflows.Post{Platform: p, Text: post.Text})
	}
	return out, nil
}

// ownedJob loads the path job and writes 404 unless it belongs to the caller.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*store.PublishJob, bool) {
	job, err := s.store.GetPublishJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if job == nil || !strings.EqualFold(job.UserEmail, currentUser(r.Context()).Email) {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil, false
	}
	return job, true
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, jobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Platforms: job.Platforms,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (s *Server) recordJobEvent(r *http.Request, jobID string, eventType string, payload map[string]any) {
	seq, err := s.store.NextJobSeq(r.Context(), jobID)
	if err != nil {
		s.logger.Error("next job seq failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	event := store.JobEvent{
		JobID:     jobID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    controlPlaneSource,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	}
	if err := s.store.AppendJobEvent(r.Context(), event); err != nil {
		s.logger.Error("append job event failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.broker.Publish(toEvent(event))
}

type ingestEventRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) ingestJobEvent(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.Type, "_") {
		http.Error(w, "event type must use dot notation", http.StatusBadRequest)
		return
	}
	job, err := s.store.GetPublishJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	seq, err := s.store.NextJobSeq(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	event := store.JobEvent{
		JobID:     jobID,
		Seq:       seq,
		Type:      events.NormalizeType(req.Type),
		Timestamp: timestamp,
		Source:    req.Source,
		TraceID:   strings.TrimSpace(req.TraceID),
		Payload:   req.Payload,
	}
	if event.TraceID == "" {
		event.TraceID = uuid.New().String()
	}
	if err := s.store.AppendJobEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.broker.Publish(toEvent(event))

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	flusher, ok := prepareSSE(w)
	if !ok {
		return
	}

	ctx := r.Context()
	// Subscribe before replaying so nothing published in between is missed.
	eventsChan := s.broker.Subscribe(ctx, job.ID)
	stored, err := s.store.ListJobEvents(ctx, job.ID, parseAfterSeq(job.ID, r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var lastSeq int64
	for _, event := range stored {
		sendSSE(w, toEvent(event))
		flusher.Flush()
		lastSeq = event.Seq
		if events.IsTerminalJobEvent(event.Type) {
			return
		}
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			sendSSE(w, event)
			flusher.Flush()
			if events.IsTerminalJobEvent(event.Type) {
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

func sendSSE(w http.ResponseWriter, event events.JobEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.JobID, event.Seq)
	fmt.Fprint(w, "event: job_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toEvent(event store.JobEvent) events.JobEvent {
	return events.JobEvent{
		JobID:   event.JobID,
		Seq:     event.Seq,
		Type:    events.NormalizeType(event.Type),
		Ts:      event.Timestamp,
		Source:  event.Source,
		TraceID: event.TraceID,
		Payload: event.Payload,
	}
}

func parseAfterSeq(jobID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	prefix, seqText, found := strings.Cut(lastEventID, ":")
	if !found || prefix != jobID {
		return 0
	}
	seq, err := strconv.ParseInt(seqText, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
