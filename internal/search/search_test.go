package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestSerpAPIQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search.json", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "Acme Corp twitter", q.Get("q"))
		require.Equal(t, "en", q.Get("hl"))
		require.Equal(t, "us", q.Get("gl"))
		require.Equal(t, "google.com", q.Get("google_domain"))
		require.Equal(t, "key", q.Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic_results":[
			{"title":" Acme (@acmecorp) ","link":"https://x.com/acmecorp","snippet":"Official"},
			{"title":"no link","link":""},
			{"title":"Acme","link":"https://acme.example","snippet":"Home"}
		]}`))
	}))
	defer server.Close()

	tool := NewSerpAPI("key", server.URL, server.Client())
	results, err := tool.Query(context.Background(), "Acme Corp twitter")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, Result{Title: "Acme (@acmecorp)", Link: "https://x.com/acmecorp", Snippet: "Official"}, results[0])
}

func TestSerpAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key."}`))
	}))
	defer server.Close()

	_, err := NewSerpAPI("bad", server.URL, nil).Query(context.Background(), "q")
	var searchErr *SearchError
	require.True(t, errors.As(err, &searchErr))
	require.Equal(t, http.StatusUnauthorized, searchErr.StatusCode)
	require.Equal(t, "Invalid API key.", searchErr.Message)
}

func TestSerpAPIEmptyResultsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Google hasn't returned any results for this query."}`))
	}))
	defer server.Close()

	results, err := NewSerpAPI("key", server.URL, nil).Query(context.Background(), "zzzz")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSerpAPIQuotaErrorWith200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Your account has run out of searches."}`))
	}))
	defer server.Close()

	_, err := NewSerpAPI("key", server.URL, nil).Query(context.Background(), "q")
	var searchErr *SearchError
	require.ErrorAs(t, err, &searchErr)
	require.Contains(t, searchErr.Error(), "run out of searches")
}

const duckDuckGoPage = `<html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example/acme">Sponsored</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fbsky.app%2Fprofile%2Facme.bsky.social&amp;rut=abc">Acme on Bluesky</a></h2>
  <a class="result__snippet">Posts from Acme.</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="https://www.linkedin.com/company/acme-corp">Acme | LinkedIn</a></h2>
  <a class="result__snippet">Acme Corp company page</a>
</div>
<div class="result"><span>no anchor</span></div>
</body></html>`

func TestDuckDuckGoQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/html/", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "Acme bluesky", r.PostForm.Get("q"))
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer server.Close()

	results, err := NewDuckDuckGo(server.URL, server.Client()).Query(context.Background(), "Acme bluesky")
	require.NoError(t, err)
	require.Equal(t, []Result{
		{Title: "Acme on Bluesky", Link: "https://bsky.app/profile/acme.bsky.social", Snippet: "Posts from Acme."},
		{Title: "Acme | LinkedIn", Link: "https://www.linkedin.com/company/acme-corp", Snippet: "Acme Corp company page"},
	}, results)
}

func TestDuckDuckGoStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewDuckDuckGo(server.URL, nil).Query(context.Background(), "q")
	var searchErr *SearchError
	require.ErrorAs(t, err, &searchErr)
	require.Equal(t, http.StatusTooManyRequests, searchErr.StatusCode)
}

func TestParseDuckDuckGoResultsEmptyPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>No results.</p></body></html>"))
	require.NoError(t, err)
	require.Empty(t, parseDuckDuckGoResults(doc))
}

func TestDecodeDuckDuckGoLink(t *testing.T) {
	cases := map[string]string{
		"":                                          "",
		"javascript:void(0)":                        "",
		"https://example.com/a":                     "https://example.com/a",
		"//duckduckgo.com/l/?uddg=https%3A%2F%2Fx.com%2Facme": "https://x.com/acme",
	}
	for input, want := range cases {
		require.Equal(t, want, decodeDuckDuckGoLink(input), input)
	}
}

func TestNewTool(t *testing.T) {
	tool, err := NewTool(Config{Provider: "serpapi", APIKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &SerpAPI{}, tool)

	_, err = NewTool(Config{Provider: "serpapi"})
	require.Error(t, err)

	tool, err = NewTool(Config{Provider: "DuckDuckGo"})
	require.NoError(t, err)
	require.IsType(t, &DuckDuckGo{}, tool)

	_, err = NewTool(Config{Provider: "bing"})
	require.Error(t, err)
}

func TestLimit(t *testing.T) {
	results := []Result{{Link: "a"}, {Link: "b"}, {Link: "c"}}
	require.Len(t, Limit(results, 2), 2)
	require.Len(t, Limit(results, 0), 3)
	require.Len(t, Limit(results, 10), 3)
}
