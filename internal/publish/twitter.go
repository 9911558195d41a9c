package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/platform"
)

const (
	defaultTwitterAPIURL    = "https://api.twitter.com"
	defaultTwitterUploadURL = "https://upload.twitter.com"
)

type Twitter struct {
	token     string
	apiURL    string
	uploadURL string
	client    *http.Client
	logger    *zap.Logger
}

func NewTwitter(token string, opts Options) *Twitter {
	apiURL := opts.TwitterAPIURL
	if apiURL == "" {
		apiURL = defaultTwitterAPIURL
	}
	uploadURL := opts.TwitterUploadURL
	if uploadURL == "" {
		uploadURL = defaultTwitterUploadURL
	}
	return &Twitter{
		token:     token,
		apiURL:    strings.TrimRight(apiURL, "/"),
		uploadURL: strings.TrimRight(uploadURL, "/"),
		client:    opts.httpClient(),
		logger:    opts.logger(),
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

func (t *Twitter) Post(ctx context.Context, text string, media *Media) (Receipt, error) {
	payload := tweetRequest{Text: text}
	if media != nil && len(media.Data) > 0 {
		mediaID, err := t.uploadMedia(ctx, media)
		if err != nil {
			return Receipt{}, err
		}
		payload.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("twitter create tweet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, readAPIError(resp, platform.Twitter, "create tweet")
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("twitter create tweet: decode: %w", err)
	}
	if out.Data.ID == "" {
		return Receipt{}, fmt.Errorf("twitter create tweet: response missing id")
	}
	t.logger.Debug("tweet created", zap.String("id", out.Data.ID))
	return Receipt{
		Platform: platform.Twitter,
		ID:       out.Data.ID,
		URL:      "https://x.com/i/web/status/" + out.Data.ID,
	}, nil
}

func (t *Twitter) uploadMedia(ctx context.Context, media *Media) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("media_category", "tweet_image"); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(media.Data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uploadURL+"/1.1/media/upload.json", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitter upload media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readAPIError(resp, platform.Twitter, "upload media")
	}
	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("twitter upload media: decode: %w", err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("twitter upload media: response missing media_id_string")
	}
	return out.MediaIDString, nil
}
