package mentions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossposter/crossposter/internal/llm"
)

func TestParseExtraction(t *testing.T) {
	x, err := ParseExtraction(`{"text":"@[entity1] launched a new product.","entities":{"entity1":"Acme Corp"}}`)
	require.NoError(t, err)
	require.Equal(t, "@[entity1] launched a new product.", x.Text)
	require.Equal(t, map[string]string{"entity1": "Acme Corp"}, x.Entities)
	require.Empty(t, x.UnusedLabels)
}

func TestParseExtractionStripsSingleFence(t *testing.T) {
	x, err := ParseExtraction("```json\n{\"text\":\"hi @[e1]\",\"entities\":{\"e1\":\" Jane Doe \"}}\n```")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", x.Entities["e1"])
}

func TestParseExtractionNoEntities(t *testing.T) {
	x, err := ParseExtraction(`{"text":"nothing to mention","entities":{}}`)
	require.NoError(t, err)
	require.Empty(t, x.Entities)

	x, err = ParseExtraction(`{"text":"nothing to mention"}`)
	require.NoError(t, err)
	require.Empty(t, x.Entities)
}

func TestParseExtractionReportsUnusedLabels(t *testing.T) {
	x, err := ParseExtraction(`{"text":"@[b] and @[b] again","entities":{"a":"Alpha","b":"Beta","c":"Gamma"}}`)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, x.UnusedLabels)
}

func TestParseExtractionRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"Sure! Here is the JSON: {\"text\":\"x\",\"entities\":{}}",
		`{"text":"x","entities":{}} trailing`,
		`{"entities":{"e1":"Acme"}}`,
		`{"text":"x","entities":{"e1":5}}`,
		`["text"]`,
	}
	for _, input := range cases {
		_, err := ParseExtraction(input)
		require.Error(t, err, input)
		require.True(t, errors.Is(err, ErrMalformedExtraction), "%q: %v", input, err)
		var extractionErr *ExtractionError
		require.ErrorAs(t, err, &extractionErr)
	}
}

func TestParseExtractionRejectsPlaceholderMismatch(t *testing.T) {
	cases := map[string]string{
		"orphan placeholder": `{"text":"@[entity1] met @[entity2]","entities":{"entity1":"Acme"}}`,
		"empty name":         `{"text":"@[entity1]","entities":{"entity1":"  "}}`,
		"null name":          `{"text":"@[entity1]","entities":{"entity1":null}}`,
		"duplicate names":    `{"text":"@[entity1] @[entity2]","entities":{"entity1":"Acme","entity2":"Acme"}}`,
	}
	for name, input := range cases {
		_, err := ParseExtraction(input)
		require.ErrorIs(t, err, ErrPlaceholderMismatch, name)
		require.False(t, errors.Is(err, ErrMalformedExtraction), name)
	}
}

func TestExtractorPromptAndModelError(t *testing.T) {
	var prompt string
	provider := providerFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		prompt = messages[len(messages)-1].Content
		return `{"text":"@[entity1] ships","entities":{"entity1":"Acme"}}`, nil
	})
	x, err := NewExtractor(provider, "Crossposter Inc").Extract(context.Background(), "Acme ships")
	require.NoError(t, err)
	require.Equal(t, "Acme", x.Entities["entity1"])
	require.Contains(t, prompt, "<post>\nAcme ships\n</post>")
	require.Contains(t, prompt, "Crossposter Inc")
	require.True(t, strings.Contains(prompt, `"@[entity1]"`))

	failing := providerFunc(func(context.Context, []llm.Message) (string, error) {
		return "", &llm.ModelError{Provider: "openai", StatusCode: 500, Err: errors.New("boom")}
	})
	_, err = NewExtractor(failing, "").Extract(context.Background(), "text")
	var modelErr *llm.ModelError
	require.ErrorAs(t, err, &modelErr)
}

func TestExtractionLabelsAndNames(t *testing.T) {
	x := Extraction{Entities: map[string]string{"b": "Zed", "a": "Acme"}}
	require.Equal(t, []string{"a", "b"}, x.Labels())
	require.Equal(t, []string{"Acme", "Zed"}, x.Names())
}
