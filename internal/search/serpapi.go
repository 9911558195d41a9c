package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const serpAPIBaseURL = "https://serpapi.com"

type SerpAPI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSerpAPI(apiKey string, baseURL string, client *http.Client) *SerpAPI {
	if baseURL == "" {
		baseURL = serpAPIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPI{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (s *SerpAPI) Query(ctx context.Context, text string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", text)
	params.Set("hl", "en")
	params.Set("gl", "us")
	params.Set("google_domain", "google.com")
	params.Set("api_key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, &SearchError{Provider: "serpapi", Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SearchError{Provider: "serpapi", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &SearchError{Provider: "serpapi", StatusCode: resp.StatusCode, Err: err}
	}
	var payload serpAPIResponse
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(payload.Error)
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(string(body))
		}
		return nil, &SearchError{Provider: "serpapi", StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return nil, &SearchError{Provider: "serpapi", StatusCode: resp.StatusCode, Err: decodeErr}
	}
	// "Google hasn't returned any results" arrives as an error with a 200.
	if payload.Error != "" && len(payload.OrganicResults) == 0 {
		if strings.Contains(strings.ToLower(payload.Error), "hasn't returned any results") {
			return []Result{}, nil
		}
		return nil, &SearchError{Provider: "serpapi", StatusCode: resp.StatusCode, Message: payload.Error}
	}

	results := make([]Result, 0, len(payload.OrganicResults))
	for _, item := range payload.OrganicResults {
		if strings.TrimSpace(item.Link) == "" {
			continue
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Snippet: strings.TrimSpace(item.Snippet),
		})
	}
	return results, nil
}
