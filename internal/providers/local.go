package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// reactActionRe matches a ReAct tool invocation emitted by models
// without native tool calling.
var reactActionRe = regexp.MustCompile(`(?s)Action:\s*(\w+)\s*\nAction Input:\s*(\{.*?\})`)

// LocalProvider implements Provider against any OpenAI-compatible
// chat/completions endpoint (ollama, llama.cpp, vllm). Native tool
// calls are used when the server returns them; otherwise tool schemas
// are injected into the system prompt and the reply is parsed as ReAct.
type LocalProvider struct {
	endpoint      string
	model         string
	maxTokens     int
	temperature   float64
	contextWindow int
	client        *http.Client
	retryConfig   RetryConfig
}

// NewLocalProvider creates a local provider for the given endpoint,
// e.g. "http://localhost:11434/v1".
func NewLocalProvider(endpoint, model string, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		endpoint:      strings.TrimRight(endpoint, "/"),
		model:         model,
		maxTokens:     4096,
		temperature:   0.7,
		contextWindow: 8192,
		client:        &http.Client{Timeout: 120 * time.Second},
		retryConfig:   DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type LocalOption func(*LocalProvider)

func WithLocalMaxTokens(n int) LocalOption {
	return func(p *LocalProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithLocalTemperature(t float64) LocalOption {
	return func(p *LocalProvider) { p.temperature = t }
}

func WithLocalContextWindow(n int) LocalOption {
	return func(p *LocalProvider) {
		if n > 0 {
			p.contextWindow = n
		}
	}
}

func (p *LocalProvider) Name() string             { return "local" }
func (p *LocalProvider) ContextWindow() int       { return p.contextWindow }
func (p *LocalProvider) CountTokens(s string) int { return EstimateTokens(s) }
func (p *LocalProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *LocalProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildRequestBody(req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("local: decode response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("local: empty choices in response")
		}
		return p.parseResponse(&resp, len(req.Tools) > 0), nil
	})
}

func (p *LocalProvider) Stream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequestBody(req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var content strings.Builder
	finishReason := "stop"

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(payload) == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			content.WriteString(text)
			if onChunk != nil {
				onChunk(StreamChunk{Content: text})
			}
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finishReason = fr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("local: read stream: %w", err)
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	result := &ChatResponse{Content: content.String(), FinishReason: finishReason}
	if len(req.Tools) > 0 {
		result.Content, result.ToolCalls = parseReActResponse(result.Content)
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}
	return result, nil
}

// buildRequestBody flattens the conversation into OpenAI chat format.
// With tools present, schemas are folded into the system prompt for
// ReAct and assistant tool calls / tool results become plain text so
// models without native support still see the full exchange.
func (p *LocalProvider) buildRequestBody(req ChatRequest, stream bool) map[string]interface{} {
	var messages []map[string]interface{}

	system := req.System
	if len(req.Tools) > 0 {
		system = buildReActSystem(req.System, req.Tools)
	}
	if system != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": system,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			content := msg.Content
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				if content != "" {
					content += "\n"
				}
				content += fmt.Sprintf("Action: %s\nAction Input: %s", tc.Name, args)
			}
			messages = append(messages, map[string]interface{}{
				"role":    "assistant",
				"content": content,
			})
		case "tool":
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": fmt.Sprintf("[Tool Result]: %s", msg.Content),
			})
		default:
			messages = append(messages, map[string]interface{}{
				"role":    msg.Role,
				"content": msg.Content,
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	body := map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (p *LocalProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("local: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("local: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("local: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func (p *LocalProvider) parseResponse(resp *openAIResponse, toolsOffered bool) *ChatResponse {
	choice := resp.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if result.FinishReason == "" {
		result.FinishReason = "stop"
	}

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			args := make(map[string]interface{})
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			}
			id := tc.ID
			if id == "" {
				id = uuid.NewString()[:12]
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		result.FinishReason = "tool_calls"
	} else if toolsOffered {
		result.Content, result.ToolCalls = parseReActResponse(result.Content)
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		}
	}
	return result
}

// buildReActSystem appends tool instructions and schemas to the system
// prompt for models without native tool calling.
func buildReActSystem(system string, tools []ToolDefinition) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
	}
	b.WriteString("\n\n## Tools\nYou have the following tools. To use one, respond with:\n\n")
	b.WriteString("Thought: <your reasoning>\nAction: <tool_name>\nAction Input: <json arguments>\n\n")
	b.WriteString("When you have a final answer, respond normally without Action/Action Input.\n")
	for _, t := range tools {
		schema, _ := json.MarshalIndent(t.Parameters, "", "  ")
		fmt.Fprintf(&b, "\n### %s\n%s\nParameters: %s\n", t.Name, t.Description, schema)
	}
	return b.String()
}

// parseReActResponse extracts the first Action/Action Input pair.
// Content is everything before the Action line; malformed JSON
// arguments degrade to an empty argument map.
func parseReActResponse(text string) (string, []ToolCall) {
	m := reactActionRe.FindStringSubmatchIndex(text)
	if m == nil {
		return text, nil
	}
	name := text[m[2]:m[3]]
	rawArgs := text[m[4]:m[5]]

	args := make(map[string]interface{})
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		args = make(map[string]interface{})
	}
	content := strings.TrimSpace(text[:m[0]])
	return content, []ToolCall{{
		ID:        uuid.NewString()[:12],
		Name:      name,
		Arguments: args,
	}}
}

// --- OpenAI-compatible API types (internal) ---

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
