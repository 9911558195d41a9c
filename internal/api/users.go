package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/utm"
)

// userEmailHeader carries the identity established by the OAuth proxy in front of the server.
const userEmailHeader = "X-User-Email"

const maxSettingsBytes = 64 << 10

var organizationRE = regexp.MustCompile(`^(?:urn:li:organization:)?\d+$`)

type userContextKey struct{}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(userEmailHeader)))
		if email == "" || !strings.Contains(email, "@") {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		user, err := s.store.UpsertUser(r.Context(), email)
		if err != nil {
			s.logger.Error("upsert user failed", zap.String("email", email), zap.Error(err))
			http.Error(w, "failed to load user", http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey{}).(*store.User)
	return user
}

type userResponse struct {
	Email                string          `json:"email"`
	Connected            map[string]bool `json:"connected"`
	UTMRules             string          `json:"utm_rules"`
	LinkedInOrganization string          `json:"linkedin_organization"`
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	connected, err := s.credentials.Connected(r.Context(), user.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := userResponse{
		Email:                user.Email,
		Connected:            make(map[string]bool, len(connected)),
		UTMRules:             user.UTMRules,
		LinkedInOrganization: user.LinkedInOrganization,
	}
	for p, ok := range connected {
		response.Connected[string(p)] = ok
	}
	writeJSON(w, response)
}

func platformParam(w http.ResponseWriter, r *http.Request) (platform.Platform, bool) {
	p, err := platform.Parse(chi.URLParam(r, "platform"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return p, true
}

func (s *Server) putCredentials(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	var bundle credentials.Bundle
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBytes)).Decode(&bundle); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	user := currentUser(r.Context())
	if err := s.credentials.Save(r.Context(), user.Email, p, bundle); err != nil {
		var validationErr *credentials.ValidationError
		if errors.As(err, &validationErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("save credentials failed", zap.String("platform", string(p)), zap.Error(err))
		http.Error(w, "failed to save credentials", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	if err := s.credentials.Delete(r.Context(), currentUser(r.Context()).Email, p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putUTMRules stores the raw YAML or JSON document after checking it parses.
// An empty body clears the rules.
func (s *Server) putUTMRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBytes))
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, err := utm.ParseRules(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SetUTMRules(r.Context(), currentUser(r.Context()).Email, strings.TrimSpace(string(body))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkedInOrganizationRequest struct {
	Organization string `json:"organization"`
}

func (s *Server) putLinkedInOrganization(w http.ResponseWriter, r *http.Request) {
	var req linkedInOrganizationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	organization := strings.TrimSpace(req.Organization)
	if organization != "" && !organizationRE.MatchString(organization) {
		http.Error(w, "organization must be a numeric id or urn:li:organization:<id>", http.StatusBadRequest)
		return
	}
	if err := s.store.SetLinkedInOrganization(r.Context(), currentUser(r.Context()).Email, organization); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyUTMRules(user *store.User, text string) string {
	if user == nil || strings.TrimSpace(user.UTMRules) == "" {
		return text
	}
	rules, err := utm.ParseRules([]byte(user.UTMRules))
	if err != nil {
		s.logger.Warn("stored utm rules are invalid", zap.String("email", user.Email), zap.Error(err))
		return text
	}
	return utm.Rewrite(text, rules)
}
