package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/llm"
	"github.com/crossposter/crossposter/internal/search"
)

const (
	webSearchTool     = "web_search"
	defaultMaxTurns   = 5
	defaultMaxResults = 8
	maxToolJSONChars  = 8000
)

var (
	fencedToolBlockRE = regexp.MustCompile("(?s)```(?:tool|json)\\s*\\n?.*?```")
	inlineToolFenceRE = regexp.MustCompile("(?s)```(tool|json)\\s*(\\{.*?\\})\\s*```")
)

const systemPrompt = "You are a research assistant with one tool, web_search, which returns web results as JSON " +
	"(title, link, snippet).\n" +
	"To search, reply with exactly one fenced block and nothing else:\n" +
	"```tool\n{\"tool_name\":\"web_search\",\"input\":{\"query\":\"<query>\"}}\n```\n" +
	"When you have enough information, reply with your final answer and no tool block."

const finalTurnPrompt = "You have used all available searches. Answer now using only the results you already have. Do not include a tool block."

// Runner answers an open-ended research question with a search-and-complete loop.
type Runner struct {
	provider   llm.Provider
	tool       search.Tool
	logger     *zap.Logger
	maxTurns   int
	maxResults int
}

type Option func(*Runner)

func WithMaxTurns(turns int) Option {
	return func(r *Runner) {
		if turns > 0 {
			r.maxTurns = turns
		}
	}
}

func WithMaxResults(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxResults = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(provider llm.Provider, tool search.Tool, opts ...Option) *Runner {
	r := &Runner{
		provider:   provider,
		tool:       tool,
		logger:     zap.NewNop(),
		maxTurns:   defaultMaxTurns,
		maxResults: defaultMaxResults,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run returns the agent's final answer. It reports false instead of an error
// when the search tool or model fails, or the answer is empty.
func (r *Runner) Run(ctx context.Context, instruction string) (string, bool) {
	answer, err := r.run(ctx, instruction)
	if err != nil {
		r.logger.Warn("agent run failed", zap.String("instruction", instruction), zap.Error(err))
		return "", false
	}
	return answer, true
}

func (r *Runner) run(ctx context.Context, instruction string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: instruction},
	}
	for turn := 0; turn <= r.maxTurns; turn++ {
		if turn == r.maxTurns {
			messages = append(messages, llm.Message{Role: "user", Content: finalTurnPrompt})
		}
		reply, err := r.provider.Generate(ctx, messages)
		if err != nil {
			return "", err
		}
		calls := parseToolCalls(reply)
		if len(calls) == 0 || turn == r.maxTurns {
			answer := stripFencedToolBlocks(reply)
			if answer == "" {
				return "", errors.New("agent returned an empty answer")
			}
			return answer, nil
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: reply})

		outputs := make([]toolOutput, 0, len(calls))
		for _, call := range calls {
			outputs = append(outputs, r.execute(ctx, call))
		}
		for _, output := range outputs {
			if output.err != nil {
				return "", output.err
			}
		}
		payload, err := json.Marshal(outputs)
		if err != nil {
			return "", fmt.Errorf("encode tool results: %w", err)
		}
		messages = append(messages, llm.Message{Role: "user", Content: "Tool results:\n" + string(payload)})
	}
	return "", errors.New("agent exceeded turn budget")
}

type toolOutput struct {
	Tool    string          `json:"tool"`
	Query   string          `json:"query,omitempty"`
	Results []search.Result `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
	err     error
}

func (r *Runner) execute(ctx context.Context, call toolCall) toolOutput {
	if call.ToolName != webSearchTool {
		return toolOutput{Tool: call.ToolName, Error: "unknown tool; only web_search is available"}
	}
	query := readStringAny(call.Input["query"])
	if query == "" {
		return toolOutput{Tool: call.ToolName, Error: "query is required"}
	}
	results, err := r.tool.Query(ctx, query)
	if err != nil {
		return toolOutput{Tool: call.ToolName, Query: query, err: err}
	}
	r.logger.Debug("web search", zap.String("query", query), zap.Int("results", len(results)))
	return toolOutput{Tool: call.ToolName, Query: query, Results: search.Limit(results, r.maxResults)}
}

type toolCall struct {
	ToolName string
	Input    map[string]any
}

func parseToolCalls(content string) []toolCall {
	if calls := parseInlineFencedToolCalls(content); len(calls) > 0 {
		return calls
	}
	for _, block := range extractFencedBlocks(content) {
		lang := strings.ToLower(strings.TrimSpace(block.lang))
		if !block.complete || (lang != "tool" && lang != "json") {
			continue
		}
		body := strings.TrimSpace(block.body)
		if body == "" || len(body) > maxToolJSONChars {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			continue
		}
		if calls := parseToolCallsFromPayload(payload); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

func parseInlineFencedToolCalls(content string) []toolCall {
	var calls []toolCall
	for _, match := range inlineToolFenceRE.FindAllStringSubmatch(content, -1) {
		payloadText := strings.TrimSpace(match[2])
		if payloadText == "" || len(payloadText) > maxToolJSONChars {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
			continue
		}
		calls = append(calls, parseToolCallsFromPayload(payload)...)
	}
	return calls
}

type fencedBlock struct {
	lang     string
	body     string
	complete bool
}

func extractFencedBlocks(content string) []fencedBlock {
	lines := strings.Split(content, "\n")
	blocks := []fencedBlock{}
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "```") {
			continue
		}
		lang := strings.TrimSpace(strings.TrimPrefix(line, "```"))
		bodyLines := []string{}
		complete := false
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				i = j
				complete = true
				break
			}
			bodyLines = append(bodyLines, lines[j])
		}
		if !complete {
			i = len(lines)
		}
		blocks = append(blocks, fencedBlock{lang: lang, body: strings.Join(bodyLines, "\n"), complete: complete})
	}
	return blocks
}

func parseToolCallsFromPayload(payload map[string]any) []toolCall {
	if payload == nil {
		return nil
	}
	if rawCalls, ok := payload["tool_calls"].([]any); ok {
		calls := make([]toolCall, 0, len(rawCalls))
		for _, raw := range rawCalls {
			if callMap, ok := raw.(map[string]any); ok {
				if call, ok := parseToolCallMap(callMap); ok {
					calls = append(calls, call)
				}
			}
		}
		return calls
	}
	if call, ok := parseToolCallMap(payload); ok {
		return []toolCall{call}
	}
	return nil
}

func parseToolCallMap(payload map[string]any) (toolCall, bool) {
	name := readStringAny(payload["tool_name"])
	if name == "" {
		name = readStringAny(payload["name"])
	}
	if name == "" {
		return toolCall{}, false
	}
	return toolCall{ToolName: strings.ToLower(name), Input: parseToolInput(payload)}, true
}

func parseToolInput(payload map[string]any) map[string]any {
	for _, key := range []string{"input", "arguments", "args", "parameters"} {
		switch typed := payload[key].(type) {
		case map[string]any:
			return typed
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(typed), &parsed); err == nil {
				return parsed
			}
		}
	}
	return map[string]any{}
}

func stripFencedToolBlocks(content string) string {
	return strings.TrimSpace(fencedToolBlockRE.ReplaceAllString(content, ""))
}

func readStringAny(value any) string {
	if str, ok := value.(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}
