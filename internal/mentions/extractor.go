package mentions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/crossposter/crossposter/internal/llm"
)

var (
	ErrMalformedExtraction = errors.New("malformed extraction")
	ErrPlaceholderMismatch = errors.New("placeholder mismatch")
)

// ExtractionError aborts a drafting run; nothing downstream can use a bad extraction.
type ExtractionError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Is(target error) bool {
	return target == e.Kind
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type Extraction struct {
	Text     string            `json:"text"`
	Entities map[string]string `json:"entities"`
	// UnusedLabels are entity keys with no placeholder in Text.
	UnusedLabels []string `json:"-"`
}

var (
	placeholderRE = regexp.MustCompile(`@\[([^\[\]\n]+)\]`)
	codeFenceRE   = regexp.MustCompile("(?s)^```[A-Za-z]*[ \t]*\n?(.*?)\n?[ \t]*```$")
)

const extractionPrompt = `Below is the text of a social media post. Extract from it a list of entities (people, companies, organizations, products) it might make sense to @-mention.
<post>
%s
</post>
Return a JSON object with the following structure and nothing else:
{
    "text": "The text of the post with @[entity1] and @[entity2] placeholders for the entities you extracted.",
    "entities": {
        "entity1": "Name of the entity",
        "entity2": "Name of the entity"
    }
}
In the text entry, the placeholders must look exactly like "@[entity1]", matching the keys in the entities entry, including the @ symbol and the square brackets.
Each entity name must appear only once in entities. Keep every other character of the post unchanged.
Do not extract %s.`

type Extractor struct {
	provider llm.Provider
	operator string
}

// NewExtractor builds an extractor; operator names an account that is never extracted.
func NewExtractor(provider llm.Provider, operator string) *Extractor {
	return &Extractor{provider: provider, operator: strings.TrimSpace(operator)}
}

func (e *Extractor) Extract(ctx context.Context, draft string) (Extraction, error) {
	reply, err := llm.Complete(ctx, e.provider, "", e.prompt(draft))
	if err != nil {
		return Extraction{}, fmt.Errorf("extract entities: %w", err)
	}
	return ParseExtraction(reply)
}

func (e *Extractor) prompt(draft string) string {
	excluded := "the social networks themselves (Twitter, X, LinkedIn, Bluesky)"
	if e.operator != "" {
		excluded += fmt.Sprintf(" or %s, the account publishing this post", e.operator)
	}
	return fmt.Sprintf(extractionPrompt, draft, excluded)
}

// ParseExtraction decodes and validates a model reply. Only a single
// surrounding code fence is tolerated; anything else malformed is rejected.
func ParseExtraction(reply string) (Extraction, error) {
	body := strings.TrimSpace(reply)
	if match := codeFenceRE.FindStringSubmatch(body); match != nil {
		body = strings.TrimSpace(match[1])
	}

	var raw struct {
		Text     *string            `json:"text"`
		Entities map[string]*string `json:"entities"`
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := decoder.Decode(&raw); err != nil {
		return Extraction{}, &ExtractionError{Kind: ErrMalformedExtraction, Err: err}
	}
	if decoder.More() {
		return Extraction{}, &ExtractionError{Kind: ErrMalformedExtraction, Detail: "trailing content after JSON object"}
	}
	if raw.Text == nil {
		return Extraction{}, &ExtractionError{Kind: ErrMalformedExtraction, Detail: "missing text field"}
	}

	out := Extraction{Text: *raw.Text, Entities: make(map[string]string, len(raw.Entities))}
	seenNames := map[string]string{}
	for label, name := range raw.Entities {
		if name == nil || strings.TrimSpace(*name) == "" {
			return Extraction{}, &ExtractionError{Kind: ErrPlaceholderMismatch, Detail: fmt.Sprintf("entity %q has no name", label)}
		}
		trimmed := strings.TrimSpace(*name)
		if other, dup := seenNames[trimmed]; dup {
			return Extraction{}, &ExtractionError{Kind: ErrPlaceholderMismatch, Detail: fmt.Sprintf("entities %q and %q share the name %q", other, label, trimmed)}
		}
		seenNames[trimmed] = label
		out.Entities[label] = trimmed
	}

	used := map[string]struct{}{}
	for _, match := range placeholderRE.FindAllStringSubmatch(out.Text, -1) {
		label := match[1]
		if _, ok := out.Entities[label]; !ok {
			return Extraction{}, &ExtractionError{Kind: ErrPlaceholderMismatch, Detail: fmt.Sprintf("placeholder @[%s] has no entity", label)}
		}
		used[label] = struct{}{}
	}
	for label := range out.Entities {
		if _, ok := used[label]; !ok {
			out.UnusedLabels = append(out.UnusedLabels, label)
		}
	}
	sort.Strings(out.UnusedLabels)
	return out, nil
}

// Labels returns the entity labels in a stable order.
func (x Extraction) Labels() []string {
	labels := make([]string, 0, len(x.Entities))
	for label := range x.Entities {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Names returns the distinct entity names in a stable order.
func (x Extraction) Names() []string {
	return distinctNames(x.Entities)
}

func distinctNames(entities map[string]string) []string {
	seen := map[string]struct{}{}
	names := make([]string, 0, len(entities))
	for _, name := range entities {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
