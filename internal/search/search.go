package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Tool returns ranked web results for a text query.
type Tool interface {
	Query(ctx context.Context, text string) ([]Result, error)
}

type SearchError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *SearchError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode > 0:
		return fmt.Sprintf("%s search failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s search failed: %s", e.Provider, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s search failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s search failed (status %d)", e.Provider, e.StatusCode)
	}
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewTool(cfg Config) (Tool, error) {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "serpapi":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("serpapi search requires SERP_API_KEY")
		}
		return NewSerpAPI(cfg.APIKey, cfg.BaseURL, client), nil
	case "duckduckgo":
		return NewDuckDuckGo(cfg.BaseURL, client), nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
}

// Limit keeps at most n results; n <= 0 keeps everything.
func Limit(results []Result, n int) []Result {
	if n <= 0 || len(results) <= n {
		return results
	}
	return results[:n]
}
