// Package chatclient implements the streaming HTTP client for the
// OpenAI-compatible chat completions endpoint: it opens a POST, parses the
// server-sent-event body into a channel of typed chunks, and offers a
// non-streaming helper that collapses the stream into one Message.
package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog/log"

	"github.com/koval/koval/internal/protocol"
)

// ApiError carries the response body of a non-2xx chat completion request.
type ApiError struct {
	StatusCode int
	Body       string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("chat completions request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client opens streaming and non-streaming requests against an
// OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client. Any trailing slash on baseURL is trimmed so that
// "{base_url}/chat/completions" never contains a doubled separator.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// StreamEvent is one item produced while consuming a chat completion stream:
// either a successfully decoded chunk, or a terminal transport error.
type StreamEvent struct {
	Chunk *protocol.ChatCompletionChunk
	Err   error
}

// Stream opens a streaming POST and returns a channel of StreamEvent. The
// channel is closed once the stream ends (sentinel "[DONE]", transport
// error, or context cancellation); at most one Err-bearing event is ever
// sent, and it is always the last.
func (c *Client) Stream(ctx context.Context, req protocol.ChatCompletionRequest) (<-chan StreamEvent, error) {
	req.Stream = true
	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode chat completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Info().Str("model", req.Model).Msg("chat completion stream started")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion transport error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ApiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseSSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// trySend delivers evt on ch unless ctx is done first. Returns false if the
// send was abandoned because the context was cancelled.
func trySend(ctx context.Context, ch chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseSSEStream splits reader by lines, keeping only "data: " lines,
// terminating cleanly on the "[DONE]" sentinel. Malformed JSON payloads are
// silently dropped — the provider may emit keep-alive or control records.
func parseSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk protocol.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("dropping malformed chat completion chunk")
			continue
		}
		if !trySend(ctx, ch, StreamEvent{Chunk: &chunk}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Err: fmt.Errorf("chat completion stream read error: %w", err)})
	}
}

// Chat collapses a streaming call into a single assistant Message by
// concatenating content fragments and retaining the last observed role.
func (c *Client) Chat(ctx context.Context, req protocol.ChatCompletionRequest) (protocol.Message, error) {
	stream, err := c.Stream(ctx, req)
	if err != nil {
		return protocol.Message{}, err
	}

	var content strings.Builder
	role := protocol.RoleAssistant
	for evt := range stream {
		if evt.Err != nil {
			return protocol.Message{}, evt.Err
		}
		for _, choice := range evt.Chunk.Choices {
			if choice.Delta.Role != nil {
				role = *choice.Delta.Role
			}
			if choice.Delta.Content != nil {
				content.WriteString(*choice.Delta.Content)
			}
		}
	}

	msg := protocol.Message{Role: role}
	if s := content.String(); s != "" {
		msg.Content = &s
	}
	return msg, nil
}

// toOpenAIRequest builds the wire request body using the go-openai SDK's
// struct shapes. The response side keeps the hand-rolled protocol decoder so
// malformed-chunk and "[DONE]"-sentinel handling stay exact.
func toOpenAIRequest(req protocol.ChatCompletionRequest) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
		Stream:   req.Stream,
	}
}

func toOpenAIMessages(messages []protocol.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.ContentText(),
		}
		if m.Name != nil {
			msg.Name = *m.Name
		}
		if m.ToolCallID != nil {
			msg.ToolCallID = *m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		result[i] = msg
	}
	return result
}

func toOpenAITools(tools []protocol.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return result
}
