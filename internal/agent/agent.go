// Package agent implements the turn loop: it alternates one streaming model
// call with zero or more sequential tool executions until the model returns
// an assistant message with no tool calls.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/protocol"
	"github.com/koval/koval/internal/tools"
)

// maxToolRounds bounds the loop so a misbehaving model can't spin forever.
const maxToolRounds = 60

// Agent is a stateful conversation holder that drives one model-plus-tools
// loop. An agent holds its history exclusively; a swarm worker owns one
// agent instance and thus one history.
type Agent struct {
	client  *chatclient.Client
	model   string
	tools   *tools.Registry
	History []protocol.Message
}

// New constructs an Agent bound to client/model and an (possibly nil) tool
// registry. A nil registry behaves as an empty one.
func New(client *chatclient.Client, model string, registry *tools.Registry) *Agent {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Agent{client: client, model: model, tools: registry}
}

// AddMessage appends a message to the agent's history.
func (a *Agent) AddMessage(msg protocol.Message) {
	a.History = append(a.History, msg)
}

// pendingToolCall accumulates one streamed tool call's id/name/arguments
// fragments, keyed by the provider-assigned integer index.
type pendingToolCall struct {
	id   string
	name string
	args string
}

// Run advances the conversation by exactly one user turn: from the current
// tail of history until the model returns an assistant message with no tool
// calls. out receives content fragments as they stream in; pass io.Discard
// if the caller doesn't want live output.
func (a *Agent) Run(ctx context.Context, out io.Writer) error {
	for round := 0; round < maxToolRounds; round++ {
		req := protocol.ChatCompletionRequest{
			Model:    a.model,
			Messages: append([]protocol.Message(nil), a.History...),
			Tools:    a.tools.Definitions(),
			Stream:   true,
		}

		stream, err := a.client.Stream(ctx, req)
		if err != nil {
			return fmt.Errorf("agent turn: %w", err)
		}

		var content []byte
		pending := make(map[int]*pendingToolCall)

		for evt := range stream {
			if evt.Err != nil {
				return fmt.Errorf("agent turn: %w", evt.Err)
			}
			for _, choice := range evt.Chunk.Choices {
				delta := choice.Delta
				if delta.Content != nil {
					content = append(content, *delta.Content...)
					_, _ = io.WriteString(out, *delta.Content)
				}
				for _, tc := range delta.ToolCalls {
					p, ok := pending[tc.Index]
					if !ok {
						p = &pendingToolCall{}
						pending[tc.Index] = p
					}
					if tc.ID != nil && *tc.ID != "" {
						p.id = *tc.ID
					}
					if tc.Function != nil {
						if tc.Function.Name != nil {
							p.name += *tc.Function.Name
						}
						if tc.Function.Arguments != nil {
							p.args += *tc.Function.Arguments
						}
					}
				}
				// finish_reason ending the stream is implicit in channel
				// closure; nothing further to do per-choice here.
				_ = choice.FinishReason
			}
		}

		indices := make([]int, 0, len(pending))
		for idx := range pending {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		var toolCalls []protocol.ToolCall
		for _, idx := range indices {
			p := pending[idx]
			if p.name == "" {
				continue // provider artifact
			}
			toolCalls = append(toolCalls, protocol.ToolCall{
				ID:   p.id,
				Kind: "function",
				Function: protocol.Function{
					Name:      p.name,
					Arguments: p.args,
				},
			})
		}

		assistantMsg := protocol.AssistantMessage(string(content), toolCalls)
		a.History = append(a.History, assistantMsg)

		if len(toolCalls) == 0 {
			return nil
		}

		for _, call := range toolCalls {
			a.History = append(a.History, a.executeToolCall(ctx, call))
		}
	}

	return fmt.Errorf("agent turn: exceeded %d tool-calling rounds", maxToolRounds)
}

// executeToolCall runs one tool call and converts success or failure into a
// Tool-role message. Tool errors are never fatal.
func (a *Agent) executeToolCall(ctx context.Context, call protocol.ToolCall) protocol.Message {
	var argsValue json.RawMessage
	if err := json.Unmarshal([]byte(call.Function.Arguments), &argsValue); err != nil {
		log.Warn().Str("tool", call.Function.Name).Err(err).Msg("tool call argument parse failed")
		return protocol.ToolMessage(fmt.Sprintf("Error parsing arguments: %v", err), call.ID, call.Function.Name)
	}

	result, err := a.tools.Call(ctx, call.Function.Name, argsValue)
	if err != nil {
		log.Warn().Str("tool", call.Function.Name).Err(err).Msg("tool call failed")
		return protocol.ToolMessage(fmt.Sprintf("Error: %v", err), call.ID, call.Function.Name)
	}

	return protocol.ToolMessage(string(result), call.ID, call.Function.Name)
}
