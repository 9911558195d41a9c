package publish

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/atproto"
	"github.com/crossposter/crossposter/internal/platform"
)

const postCollection = "app.bsky.feed.post"

var (
	markedMentionRE = regexp.MustCompile(`@\[([^\]]+)\]\(([^)]+)\)`)
	mentionRE       = regexp.MustCompile(`(?:^|[^\w@.])(@(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)`)
	linkRE          = regexp.MustCompile(`https?://[^\s<>"']+`)
)

type Bluesky struct {
	identifier string
	password   string
	client     *atproto.Client
	logger     *zap.Logger
}

func NewBluesky(identifier string, password string, opts Options) *Bluesky {
	return &Bluesky{
		identifier: normalizeIdentifier(identifier),
		password:   password,
		client:     atproto.NewClient(opts.BlueskyServiceURL, opts.httpClient()),
		logger:     opts.logger(),
	}
}

// normalizeIdentifier expands a bare username to a bsky.social handle.
func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if identifier != "" && !strings.Contains(identifier, ".") {
		return identifier + ".bsky.social"
	}
	return identifier
}

type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetIndex spans UTF-8 byte offsets into the post text.
type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type FacetFeature struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type imageEmbed struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
}

type embedImage struct {
	Alt   string       `json:"alt"`
	Image atproto.Blob `json:"image"`
}

type postRecord struct {
	Type      string      `json:"$type"`
	Text      string      `json:"text"`
	CreatedAt string      `json:"createdAt"`
	Facets    []Facet     `json:"facets,omitempty"`
	Embed     *imageEmbed `json:"embed,omitempty"`
}

func (b *Bluesky) Post(ctx context.Context, text string, media *Media) (Receipt, error) {
	session, err := b.client.CreateSession(ctx, b.identifier, b.password)
	if err != nil {
		return Receipt{}, fmt.Errorf("bluesky login: %w", err)
	}

	text = TruncateGraphemes(CollapseMentions(text), platform.BlueskyMaxGraphemes)
	record := postRecord{
		Type:      postCollection,
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Facets:    b.detectFacets(ctx, text),
	}
	if media != nil && len(media.Data) > 0 {
		blob, err := b.client.UploadBlob(ctx, media.Data, media.contentType())
		if err != nil {
			return Receipt{}, fmt.Errorf("bluesky upload image: %w", err)
		}
		record.Embed = &imageEmbed{
			Type:   "app.bsky.embed.images",
			Images: []embedImage{{Alt: media.Alt, Image: blob}},
		}
	}

	ref, err := b.client.CreateRecord(ctx, postCollection, record)
	if err != nil {
		return Receipt{}, fmt.Errorf("bluesky create post: %w", err)
	}
	return Receipt{
		Platform: platform.Bluesky,
		ID:       ref.URI,
		URL:      postURL(session.Handle, ref.URI),
	}, nil
}

// CollapseMentions rewrites @[handle](url) markup to a bare @handle.
func CollapseMentions(text string) string {
	return markedMentionRE.ReplaceAllString(text, "@$1")
}

// TruncateGraphemes cuts text to at most limit grapheme clusters.
func TruncateGraphemes(text string, limit int) string {
	if uniseg.GraphemeClusterCount(text) <= limit {
		return text
	}
	graphemes := uniseg.NewGraphemes(text)
	count := 0
	end := 0
	for graphemes.Next() {
		if count == limit {
			break
		}
		_, end = graphemes.Positions()
		count++
	}
	return text[:end]
}

func (b *Bluesky) detectFacets(ctx context.Context, text string) []Facet {
	var facets []Facet
	for _, loc := range mentionRE.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		handle := text[start+1 : end]
		did, err := b.client.ResolveHandle(ctx, handle)
		if err != nil || did == "" {
			b.logger.Debug("bluesky mention not resolved", zap.String("handle", handle), zap.Error(err))
			continue
		}
		facets = append(facets, Facet{
			Index:    FacetIndex{ByteStart: start, ByteEnd: end},
			Features: []FacetFeature{{Type: "app.bsky.richtext.facet#mention", DID: did}},
		})
	}
	for _, loc := range linkRE.FindAllStringIndex(text, -1) {
		uri := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)")
		facets = append(facets, Facet{
			Index:    FacetIndex{ByteStart: loc[0], ByteEnd: loc[0] + len(uri)},
			Features: []FacetFeature{{Type: "app.bsky.richtext.facet#link", URI: uri}},
		})
	}
	return facets
}

// postURL builds the bsky.app link for an at://did/app.bsky.feed.post/rkey URI.
func postURL(handle string, uri string) string {
	parts := strings.Split(strings.TrimPrefix(uri, "at://"), "/")
	if len(parts) != 3 {
		return ""
	}
	actor := handle
	if actor == "" {
		actor = parts[0]
	}
	return "https://bsky.app/profile/" + actor + "/post/" + parts[2]
}
