package mentions

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/crossposter/crossposter/internal/atproto"
	"github.com/crossposter/crossposter/internal/platform"
)

const notFoundToken = "NOT FOUND"

// Strategy holds everything that differs between platforms during handle resolution.
type Strategy interface {
	Platform() platform.Platform
	SearchHint() string
	Instruction(name string) string
	// Normalize maps a cleaned agent answer to a handle; false means not found.
	Normalize(ctx context.Context, answer string) (string, bool)
}

// DIDResolver looks up DID documents.
type DIDResolver interface {
	Resolve(ctx context.Context, did string) (atproto.Document, error)
}

func Strategies(dir DIDResolver) []Strategy {
	return []Strategy{TwitterStrategy{}, LinkedInStrategy{}, BlueskyStrategy{Directory: dir}}
}

func instruction(p platform.Platform, name string, hint string, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your goal is to find the official %s account of %q.\n", p.DisplayName(), name)
	if extra != "" {
		b.WriteString(extra)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Search the web for \"%s %s\". You'll get a list of results.\n", name, hint)
	fmt.Fprintf(&b, "Pick the single result that is most likely to be the official %s account of %q.\n", p.DisplayName(), name)
	fmt.Fprintf(&b, "Return the canonical profile URL of that account and nothing else. If there is no such account, return exactly %s.", notFoundToken)
	return b.String()
}

type TwitterStrategy struct{}

func (TwitterStrategy) Platform() platform.Platform { return platform.Twitter }

func (TwitterStrategy) SearchHint() string { return "twitter account" }

func (s TwitterStrategy) Instruction(name string) string {
	return instruction(platform.Twitter, name, s.SearchHint(),
		"Twitter is also called X, so results may say \"X account\" or link to x.com.")
}

var (
	twitterHosts = map[string]struct{}{"twitter.com": {}, "x.com": {}}
	// Top-level paths that are never user profiles.
	twitterReservedPaths = map[string]struct{}{
		"i": {}, "home": {}, "search": {}, "intent": {}, "share": {}, "hashtag": {},
		"explore": {}, "settings": {}, "login": {}, "messages": {}, "notifications": {},
	}
	twitterHandleRE = regexp.MustCompile(`^[A-Za-z0-9_]{1,50}$`)
)

func (TwitterStrategy) Normalize(_ context.Context, answer string) (string, bool) {
	u, ok := parseAnswerURL(answer)
	if !ok {
		return "", false
	}
	if _, known := twitterHosts[trimHostPrefixes(u.Hostname())]; !known {
		return "", false
	}
	segments := pathSegments(u)
	if len(segments) == 0 {
		return "", false
	}
	handle := strings.TrimPrefix(segments[0], "@")
	if _, reserved := twitterReservedPaths[strings.ToLower(handle)]; reserved {
		return "", false
	}
	if !twitterHandleRE.MatchString(handle) {
		return "", false
	}
	return "@" + handle, true
}

type LinkedInStrategy struct{}

func (LinkedInStrategy) Platform() platform.Platform { return platform.LinkedIn }

func (LinkedInStrategy) SearchHint() string { return "linkedin account" }

func (s LinkedInStrategy) Instruction(name string) string {
	return instruction(platform.LinkedIn, name, s.SearchHint(),
		"Prefer a company or organization page (linkedin.com/company/...) over a personal profile.")
}

// Normalize keeps company pages only: LinkedIn cannot mention members through the posts API.
func (LinkedInStrategy) Normalize(_ context.Context, answer string) (string, bool) {
	u, ok := parseAnswerURL(answer)
	if !ok {
		return "", false
	}
	host := trimHostPrefixes(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return "", false
	}
	segments := pathSegments(u)
	if len(segments) < 2 || strings.ToLower(segments[0]) != "company" {
		return "", false
	}
	return u.String(), true
}

type BlueskyStrategy struct {
	Directory DIDResolver
}

func (BlueskyStrategy) Platform() platform.Platform { return platform.Bluesky }

func (BlueskyStrategy) SearchHint() string { return "bluesky account" }

func (s BlueskyStrategy) Instruction(name string) string {
	return instruction(platform.Bluesky, name, s.SearchHint(),
		"Bluesky profiles live at bsky.app/profile/<handle or DID>.")
}

var (
	didPLCRE    = regexp.MustCompile(`did:plc:[a-z0-9]+`)
	answerURLRE = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
)

func (s BlueskyStrategy) Normalize(ctx context.Context, answer string) (string, bool) {
	cleaned := cleanAnswer(answer)
	if cleaned == "" || strings.EqualFold(cleaned, notFoundToken) {
		return "", false
	}
	if did := didPLCRE.FindString(cleaned); did != "" {
		if s.Directory == nil {
			return "", false
		}
		doc, err := s.Directory.Resolve(ctx, did)
		if err != nil {
			return "", false
		}
		handle, ok := doc.Handle()
		if !ok {
			return "", false
		}
		return "@" + strings.TrimPrefix(handle, "@"), true
	}

	if handle, ok := bareBlueskyHandle(cleaned); ok {
		return "@" + handle, true
	}
	u, ok := parseAnswerURL(cleaned)
	if !ok {
		return "", false
	}
	if _, known := blueskyHosts[trimHostPrefixes(u.Hostname())]; !known {
		return "", false
	}
	segments := pathSegments(u)
	if len(segments) < 2 || !strings.EqualFold(segments[0], "profile") {
		return "", false
	}
	handle := strings.TrimPrefix(segments[1], "@")
	if !blueskyHandleRE.MatchString(handle) {
		return "", false
	}
	return "@" + handle, true
}

var (
	blueskyHosts    = map[string]struct{}{"bsky.app": {}, "staging.bsky.app": {}}
	blueskyHandleRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)+$`)
)

// bareBlueskyHandle accepts answers like "acme.bsky.social" or "@acme.com" that
// carry no scheme or path. Site hosts of any platform are not handles.
func bareBlueskyHandle(answer string) (string, bool) {
	if strings.Contains(answer, "/") || strings.ContainsAny(answer, " \t\n") {
		return "", false
	}
	handle := strings.TrimPrefix(answer, "@")
	if !blueskyHandleRE.MatchString(handle) {
		return "", false
	}
	host := strings.ToLower(handle)
	if strings.HasPrefix(host, "www.") {
		return "", false
	}
	if _, site := blueskyHosts[host]; site {
		return "", false
	}
	if _, site := twitterHosts[host]; site {
		return "", false
	}
	if host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com") {
		return "", false
	}
	return handle, true
}

// cleanAnswer strips whitespace, wrapping quotes, brackets and trailing punctuation.
func cleanAnswer(answer string) string {
	cleaned := answer
	for {
		prev := cleaned
		cleaned = strings.TrimSpace(cleaned)
		cleaned = strings.Trim(cleaned, "`\"'<>()[]*")
		cleaned = strings.TrimRight(cleaned, ".,;:!?")
		if cleaned == prev {
			return cleaned
		}
	}
}

func parseAnswerURL(answer string) (*url.URL, bool) {
	cleaned := cleanAnswer(answer)
	if cleaned == "" || strings.EqualFold(cleaned, notFoundToken) {
		return nil, false
	}
	if strings.ContainsAny(cleaned, " \t\n") {
		match := answerURLRE.FindString(cleaned)
		if match == "" {
			return nil, false
		}
		cleaned = cleanAnswer(match)
	}
	if !strings.Contains(cleaned, "://") {
		cleaned = "https://" + cleaned
	}
	u, err := url.Parse(cleaned)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func trimHostPrefixes(host string) string {
	host = strings.ToLower(host)
	for _, prefix := range []string{"www.", "mobile.", "m."} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}

func pathSegments(u *url.URL) []string {
	var segments []string
	for _, segment := range strings.Split(u.Path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}
