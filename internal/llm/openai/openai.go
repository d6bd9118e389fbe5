// Package openai implements the LLM provider interface for the OpenAI Chat
// Completions API. Ollama exposes the same API, so the Ollama provider is this
// client pointed at a local base URL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/jkaninda/ideaflow/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	defaultMaxTokens = 4096
	maxSSELineBytes  = 1 << 20
)

// Client implements llm.StreamingProvider over Chat Completions.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ llm.StreamingProvider = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name reported in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates a Chat Completions provider. model is used when a
// request does not name one. An empty apiKey sends no Authorization header.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// SendMessage requests a complete, non-streamed reply.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq := c.chatRequest(req)

	httpResp, err := c.post(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var completion chatCompletion
	if err := json.NewDecoder(httpResp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	resp := completion.response()

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", chatReq.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

// StreamMessage implements llm.StreamingProvider. Text deltas are forwarded
// as they arrive. Tool call arguments arrive in fragments keyed by index and
// are emitted as complete tool_use events once the choice finishes.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	chatReq := c.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &streamOptions{IncludeUsage: true}

	fail := func(err error) error {
		llm.Send(ctx, events, llm.StreamEvent{Type: llm.EventError, Error: err})
		return err
	}

	httpResp, err := c.post(ctx, chatReq)
	if err != nil {
		return fail(err)
	}
	defer httpResp.Body.Close()

	calls := map[int]*pendingCall{}
	var usage llm.Usage
	finish := ""

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fail(fmt.Errorf("stream error: %s", chunk.Error.Message))
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.usage()
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !llm.Send(ctx, events, llm.StreamEvent{Type: llm.EventText, Content: choice.Delta.Content}) {
					return ctx.Err()
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &pendingCall{}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		block, err := calls[i].block()
		if err != nil {
			return fail(err)
		}
		if !llm.Send(ctx, events, llm.StreamEvent{Type: llm.EventToolUse, ToolUse: &block}) {
			return ctx.Err()
		}
	}

	c.logger.DebugContext(ctx, "llm stream completed",
		slog.String("provider", c.name),
		slog.String("model", chatReq.Model),
		slog.Int("tool_calls", len(calls)),
		slog.String("finish_reason", finish),
	)
	llm.Send(ctx, events, llm.StreamEvent{Type: llm.EventDone, StopReason: stopReason(finish), Usage: usage})
	return nil
}

func (c *Client) post(ctx context.Context, chatReq chatRequest) (*http.Response, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if chatReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp, nil
}

func (c *Client) chatRequest(req *llm.Request) chatRequest {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, toChatMessages(m)...)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// toChatMessages maps one history message onto the wire. An assistant turn
// with tool_use blocks becomes one message carrying tool_calls. A user turn
// with tool_result blocks becomes one "tool" message per result, preceded by
// its text, if any.
func toChatMessages(m llm.Message) []chatMessage {
	if len(m.ContentBlocks) == 0 {
		return []chatMessage{{Role: string(m.Role), Content: m.Content}}
	}

	var text strings.Builder
	if m.Role == llm.RoleAssistant {
		msg := chatMessage{Role: "assistant"}
		for _, b := range m.ContentBlocks {
			switch b.Type {
			case "text":
				text.WriteString(b.Text)
			case "tool_use":
				args, _ := json.Marshal(b.Input)
				msg.ToolCalls = append(msg.ToolCalls, toolCall{
					ID:       b.ID,
					Type:     "function",
					Function: functionCall{Name: b.Name, Arguments: string(args)},
				})
			}
		}
		msg.Content = text.String()
		return []chatMessage{msg}
	}

	var results []chatMessage
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_result":
			results = append(results, chatMessage{Role: "tool", Content: b.Text, ToolCallID: b.ToolUseID})
		}
	}
	if text.Len() > 0 {
		results = append([]chatMessage{{Role: "user", Content: text.String()}}, results...)
	}
	return results
}

// stopReason maps finish_reason onto the llm.Stop* values.
func stopReason(finish string) string {
	switch finish {
	case "stop":
		return llm.StopEndTurn
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return finish
	}
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

func (p *pendingCall) block() (llm.ContentBlock, error) {
	input := map[string]any{}
	if raw := p.args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return llm.ContentBlock{}, fmt.Errorf("decoding arguments of tool %s: %w", p.name, err)
		}
	}
	return llm.ToolUseBlock(p.id, p.name, input), nil
}

// Wire types.

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionCall `json:"function"`
}

type toolCallDelta struct {
	Index int `json:"index"`
	toolCall
}

type functionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type chatCompletion struct {
	Choices []completionChoice `json:"choices"`
	Usage   chatUsage          `json:"usage"`
}

type completionChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

func (cc *chatCompletion) response() *llm.Response {
	resp := &llm.Response{Usage: cc.Usage.usage()}
	if len(cc.Choices) == 0 {
		return resp
	}
	choice := cc.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = choice.Message.Content
		resp.ContentBlocks = append(resp.ContentBlocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		resp.ContentBlocks = append(resp.ContentBlocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	resp.StopReason = stopReason(choice.FinishReason)
	return resp
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u chatUsage) usage() llm.Usage {
	return llm.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}
