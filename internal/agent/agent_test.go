package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossposter/crossposter/internal/llm"
	"github.com/crossposter/crossposter/internal/search"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (s *scriptedProvider) Generate(_ context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

type fakeSearch struct {
	queries []string
	results []search.Result
	err     error
}

func (f *fakeSearch) Query(_ context.Context, text string) ([]search.Result, error) {
	f.queries = append(f.queries, text)
	return f.results, f.err
}

const searchBlock = "```tool\n{\"tool_name\":\"web_search\",\"input\":{\"query\":\"Acme Corp twitter\"}}\n```"

func TestRunnerSearchesThenAnswers(t *testing.T) {
	provider := &scriptedProvider{replies: []string{searchBlock, "https://x.com/acmecorp"}}
	tool := &fakeSearch{results: []search.Result{{Title: "Acme", Link: "https://x.com/acmecorp", Snippet: "Official"}}}

	answer, ok := NewRunner(provider, tool).Run(context.Background(), "find Acme")
	require.True(t, ok)
	require.Equal(t, "https://x.com/acmecorp", answer)
	require.Equal(t, []string{"Acme Corp twitter"}, tool.queries)

	require.Len(t, provider.calls, 2)
	second := provider.calls[1]
	require.Equal(t, "assistant", second[len(second)-2].Role)
	last := second[len(second)-1]
	require.Equal(t, "user", last.Role)
	require.True(t, strings.HasPrefix(last.Content, "Tool results:"))
	require.Contains(t, last.Content, "https://x.com/acmecorp")
}

func TestRunnerAnswersWithoutTools(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"NOT FOUND"}}
	tool := &fakeSearch{}

	answer, ok := NewRunner(provider, tool).Run(context.Background(), "find nobody")
	require.True(t, ok)
	require.Equal(t, "NOT FOUND", answer)
	require.Empty(t, tool.queries)
}

func TestRunnerForcesFinalAnswerAfterMaxTurns(t *testing.T) {
	provider := &scriptedProvider{replies: []string{searchBlock, searchBlock, "I think it is https://x.com/acme " + searchBlock}}
	tool := &fakeSearch{}

	answer, ok := NewRunner(provider, tool, WithMaxTurns(2)).Run(context.Background(), "find Acme")
	require.True(t, ok)
	require.Equal(t, "I think it is https://x.com/acme", answer)
	require.Len(t, tool.queries, 2)
	final := provider.calls[2]
	require.Equal(t, finalTurnPrompt, final[len(final)-1].Content)
}

func TestRunnerReturnsFalseOnSearchError(t *testing.T) {
	provider := &scriptedProvider{replies: []string{searchBlock}}
	tool := &fakeSearch{err: &search.SearchError{Provider: "serpapi", StatusCode: 429}}

	answer, ok := NewRunner(provider, tool).Run(context.Background(), "find Acme")
	require.False(t, ok)
	require.Empty(t, answer)
}

func TestRunnerReturnsFalseOnModelError(t *testing.T) {
	provider := &scriptedProvider{err: &llm.ModelError{Provider: "openai", StatusCode: 503, Err: errors.New("down")}}

	_, ok := NewRunner(provider, &fakeSearch{}).Run(context.Background(), "find Acme")
	require.False(t, ok)
}

func TestRunnerReturnsFalseOnEmptyAnswer(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"   "}}

	_, ok := NewRunner(provider, &fakeSearch{}).Run(context.Background(), "find Acme")
	require.False(t, ok)
}

func TestRunnerReportsUnknownToolToModel(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"```tool\n{\"tool_name\":\"browser.open\",\"input\":{\"url\":\"https://x.com\"}}\n```",
		"NOT FOUND",
	}}
	tool := &fakeSearch{}

	answer, ok := NewRunner(provider, tool).Run(context.Background(), "find Acme")
	require.True(t, ok)
	require.Equal(t, "NOT FOUND", answer)
	require.Empty(t, tool.queries)
	last := provider.calls[1][len(provider.calls[1])-1]
	require.Contains(t, last.Content, "only web_search is available")
}

func TestParseToolCalls(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []toolCall
	}{
		{
			name:    "inline tool fence",
			content: "```tool {\"tool_name\":\"web_search\",\"input\":{\"query\":\"a\"}} ```",
			want:    []toolCall{{ToolName: "web_search", Input: map[string]any{"query": "a"}}},
		},
		{
			name:    "multi-line json fence with tool_calls",
			content: "Searching.\n```json\n{\"tool_calls\":[{\"name\":\"WEB_SEARCH\",\"arguments\":\"{\\\"query\\\":\\\"b\\\"}\"}]}\n```",
			want:    []toolCall{{ToolName: "web_search", Input: map[string]any{"query": "b"}}},
		},
		{
			name:    "prose only",
			content: "https://x.com/acme",
			want:    nil,
		},
		{
			name:    "unterminated fence",
			content: "```tool\n{\"tool_name\":\"web_search\"",
			want:    nil,
		},
		{
			name:    "invalid json",
			content: "```tool\n{not json}\n```",
			want:    nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, parseToolCalls(tc.content))
		})
	}
}

func TestStripFencedToolBlocks(t *testing.T) {
	require.Equal(t, "answer", stripFencedToolBlocks("answer\n```tool\n{}\n```"))
	require.Equal(t, "", stripFencedToolBlocks("```json\n{}\n```"))
}
