package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/platform"
)

const (
	defaultLinkedInAPIURL = "https://api.linkedin.com"
	linkedInVersion       = "202411"
)

var (
	companyURLRE = regexp.MustCompile(`https?://(?:[a-z]{2,3}\.|www\.)?linkedin\.com/company/([\w%-]+)/?`)
	// Characters reserved by LinkedIn's commentary format; they must be escaped outside mentions.
	linkedInReserved = "\\|{}@[]()<>#*_~"
)

type LinkedIn struct {
	token        string
	organization string
	baseURL      string
	client       *http.Client
	logger       *zap.Logger
}

func NewLinkedIn(token string, organization string, opts Options) *LinkedIn {
	baseURL := opts.LinkedInAPIURL
	if baseURL == "" {
		baseURL = defaultLinkedInAPIURL
	}
	return &LinkedIn{
		token:        token,
		organization: strings.TrimSpace(organization),
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       opts.httpClient(),
		logger:       opts.logger(),
	}
}

type organization struct {
	ID            json.Number `json:"id"`
	LocalizedName string      `json:"localizedName"`
}

func (l *LinkedIn) Post(ctx context.Context, text string, media *Media) (Receipt, error) {
	commentary := l.Commentary(ctx, text)
	author, err := l.author(ctx)
	if err != nil {
		return Receipt{}, err
	}

	post := map[string]any{
		"author":     author,
		"commentary": commentary,
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	if media != nil && len(media.Data) > 0 {
		imageURN, err := l.uploadImage(ctx, author, media)
		if err != nil {
			return Receipt{}, err
		}
		title := media.Alt
		if title == "" {
			title = "Cover image of the post"
		}
		post["content"] = map[string]any{
			"media": map[string]any{"title": title, "id": imageURN},
		}
	}

	resp, err := l.send(ctx, http.MethodPost, l.baseURL+"/rest/posts", post)
	if err != nil {
		return Receipt{}, fmt.Errorf("linkedin create post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return Receipt{}, readAPIError(resp, platform.LinkedIn, "create post")
	}
	id := resp.Header.Get("x-restli-id")
	if id == "" {
		return Receipt{}, fmt.Errorf("linkedin create post: response missing x-restli-id")
	}
	l.logger.Debug("linkedin post created", zap.String("id", id))
	return Receipt{
		Platform: platform.LinkedIn,
		ID:       id,
		URL:      "https://www.linkedin.com/feed/update/" + id,
	}, nil
}

// Commentary turns company page URLs into organization mentions and escapes
// reserved characters everywhere else. A company that cannot be looked up
// stays a plain link.
func (l *LinkedIn) Commentary(ctx context.Context, text string) string {
	var out strings.Builder
	cache := map[string]*organization{}
	last := 0
	for _, loc := range companyURLRE.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(escapeLinkedIn(text[last:loc[0]]))
		last = loc[1]

		slug := text[loc[2]:loc[3]]
		org, seen := cache[slug]
		if !seen {
			found, err := l.lookupOrganization(ctx, slug)
			if err != nil {
				l.logger.Warn("linkedin organization lookup failed", zap.String("vanity_name", slug), zap.Error(err))
			}
			org = found
			cache[slug] = org
		}
		if org == nil {
			out.WriteString(escapeLinkedIn(text[loc[0]:loc[1]]))
			continue
		}
		fmt.Fprintf(&out, "@[%s](urn:li:organization:%s)", org.LocalizedName, org.ID.String())
	}
	out.WriteString(escapeLinkedIn(text[last:]))
	return out.String()
}

func escapeLinkedIn(text string) string {
	var out strings.Builder
	out.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(linkedInReserved, r) {
			out.WriteByte('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}

func (l *LinkedIn) lookupOrganization(ctx context.Context, vanityName string) (*organization, error) {
	params := url.Values{}
	params.Set("q", "vanityName")
	params.Set("vanityName", vanityName)
	resp, err := l.send(ctx, http.MethodGet, l.baseURL+"/v2/organizations?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp, platform.LinkedIn, "organization lookup")
	}
	var out struct {
		Elements []organization `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Elements) == 0 || out.Elements[0].ID == "" || out.Elements[0].LocalizedName == "" {
		return nil, nil
	}
	return &out.Elements[0], nil
}

func (l *LinkedIn) author(ctx context.Context) (string, error) {
	if l.organization != "" {
		if strings.HasPrefix(l.organization, "urn:li:") {
			return l.organization, nil
		}
		return "urn:li:organization:" + l.organization, nil
	}
	resp, err := l.send(ctx, http.MethodGet, l.baseURL+"/v2/userinfo", nil)
	if err != nil {
		return "", fmt.Errorf("linkedin userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp, platform.LinkedIn, "userinfo")
	}
	var profile struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("linkedin userinfo: decode: %w", err)
	}
	if profile.Sub == "" {
		return "", fmt.Errorf("linkedin userinfo: response missing sub")
	}
	return "urn:li:person:" + profile.Sub, nil
}

func (l *LinkedIn) uploadImage(ctx context.Context, owner string, media *Media) (string, error) {
	body := map[string]any{"initializeUploadRequest": map[string]any{"owner": owner}}
	resp, err := l.send(ctx, http.MethodPost, l.baseURL+"/rest/images?action=initializeUpload", body)
	if err != nil {
		return "", fmt.Errorf("linkedin initialize upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readAPIError(resp, platform.LinkedIn, "initialize upload")
	}
	var upload struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return "", fmt.Errorf("linkedin initialize upload: decode: %w", err)
	}
	if upload.Value.UploadURL == "" || upload.Value.Image == "" {
		return "", fmt.Errorf("linkedin initialize upload: response missing upload url or image urn")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.Value.UploadURL, bytes.NewReader(media.Data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Content-Type", "application/octet-stream")
	putResp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("linkedin upload image: %w", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return "", readAPIError(putResp, platform.LinkedIn, "upload image")
	}
	return upload.Value.Image, nil
}

func (l *LinkedIn) send(ctx context.Context, method string, target string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("LinkedIn-Version", linkedInVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return l.client.Do(req)
}
