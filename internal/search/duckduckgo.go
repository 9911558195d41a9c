package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoBaseURL = "https://html.duckduckgo.com"

// DuckDuckGo scrapes the HTML results page. It needs no API key.
type DuckDuckGo struct {
	baseURL string
	client  *http.Client
}

func NewDuckDuckGo(baseURL string, client *http.Client) *DuckDuckGo {
	if baseURL == "" {
		baseURL = duckDuckGoBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &DuckDuckGo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *DuckDuckGo) Query(ctx context.Context, text string) ([]Result, error) {
	form := url.Values{}
	form.Set("q", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/html/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &SearchError{Provider: "duckduckgo", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; crossposter/1.0)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &SearchError{Provider: "duckduckgo", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &SearchError{Provider: "duckduckgo", StatusCode: resp.StatusCode, Message: resp.Status}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &SearchError{Provider: "duckduckgo", Err: fmt.Errorf("parse document: %w", err)}
	}
	return parseDuckDuckGoResults(doc), nil
}

func parseDuckDuckGoResults(doc *goquery.Document) []Result {
	results := []Result{}
	doc.Find(".result").Each(func(_ int, sel *goquery.Selection) {
		if sel.HasClass("result--ad") {
			return
		}
		anchor := sel.Find("a.result__a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		link := decodeDuckDuckGoLink(href)
		if link == "" {
			return
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(anchor.Text()),
			Link:    link,
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
		})
	})
	return results
}

// decodeDuckDuckGoLink unwraps //duckduckgo.com/l/?uddg=<target> redirects.
func decodeDuckDuckGoLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" && strings.HasSuffix(parsed.Host, "duckduckgo.com") {
		return target
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
