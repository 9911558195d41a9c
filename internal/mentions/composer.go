package mentions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/llm"
	"github.com/crossposter/crossposter/internal/platform"
)

const shortenSystemPrompt = "You edit social media posts to fit length limits. Reply with the edited post only."

const shortenPrompt = `Shorten the following post to at most %d characters.
Keep every @-mention exactly as written, and keep any URL at the end of the post exactly as written.
Do not add quotes, commentary or hashtags.

%s`

type Composer struct {
	provider         llm.Provider
	logger           *zap.Logger
	truncateOverflow bool
}

type ComposerOption func(*Composer)

// WithTruncateOverflow cuts a shortened draft that is still over the limit at a word boundary.
func WithTruncateOverflow(enabled bool) ComposerOption {
	return func(c *Composer) {
		c.truncateOverflow = enabled
	}
}

func WithComposerLogger(logger *zap.Logger) ComposerOption {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewComposer(provider llm.Provider, opts ...ComposerOption) *Composer {
	c := &Composer{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Substitute replaces every @[label] with the entity's handle, or its plain name when unresolved.
func Substitute(canonical string, entities map[string]string, handles Handles) string {
	labels := make([]string, 0, len(entities))
	for label := range entities {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	pairs := make([]string, 0, 2*len(labels))
	for _, label := range labels {
		name := entities[label]
		replacement := name
		if handle := handles[name]; handle != nil && *handle != "" {
			replacement = *handle
		}
		pairs = append(pairs, "@["+label+"]", replacement)
	}
	if len(pairs) == 0 {
		return canonical
	}
	return strings.NewReplacer(pairs...).Replace(canonical)
}

// Length counts grapheme clusters, the unit Bluesky limits posts by.
func Length(text string) int {
	return uniseg.GraphemeClusterCount(text)
}

func (c *Composer) Compose(ctx context.Context, canonical string, entities map[string]string, handles Handles, p platform.Platform, sink ProgressSink) string {
	if sink == nil {
		sink = discardSink{}
	}
	draft := Substitute(canonical, entities, handles)
	limit := p.MaxLength()
	if limit <= 0 || Length(draft) <= limit {
		return draft
	}

	sink.Emit(fmt.Sprintf("Shortening %s draft...", p.DisplayName()))
	shortened, err := llm.Complete(ctx, c.provider, shortenSystemPrompt, fmt.Sprintf(shortenPrompt, limit, draft))
	if err != nil {
		c.logger.Warn("shorten draft failed", zap.String("platform", p.String()), zap.Error(err))
		sink.Emit(fmt.Sprintf("Could not shorten %s draft; it is %d characters and needs editing before posting", p.DisplayName(), Length(draft)))
		return draft
	}
	draft = shortened

	if n := Length(draft); n > limit {
		if c.truncateOverflow {
			draft = TruncateWords(draft, limit)
			sink.Emit(fmt.Sprintf("Truncated %s draft to %d characters", p.DisplayName(), Length(draft)))
		} else {
			sink.Emit(fmt.Sprintf("%s draft is still %d characters after shortening; edit it before posting", p.DisplayName(), n))
		}
	}
	return draft
}

// TruncateWords keeps at most limit grapheme clusters, cutting at the last
// whitespace when there is one.
func TruncateWords(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	var b strings.Builder
	lastSpace := -1
	count := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		if count == limit {
			break
		}
		cluster := g.Str()
		if r := []rune(cluster); len(r) == 1 && unicode.IsSpace(r[0]) {
			lastSpace = b.Len()
		}
		b.WriteString(cluster)
		count++
	}
	out := b.String()
	if count < limit || len(out) == len(text) {
		return out
	}
	if lastSpace > 0 {
		out = out[:lastSpace]
	}
	return strings.TrimRightFunc(out, unicode.IsSpace)
}
