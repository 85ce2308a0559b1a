package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/protocol"
	"github.com/koval/koval/internal/tools"
)

type echoTool struct {
	calls int32
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes input" }
func (e *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (e *echoTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	atomic.AddInt32(&e.calls, 1)
	return json.RawMessage(`{"result":"ok"}`), nil
}

// toolCallThenStopServer serves a streamed tool call on its first request,
// then a plain content reply with no tool calls on the second — exercising
// the turn loop's normal termination path.
func toolCallThenStopServer(t *testing.T) *httptest.Server {
	t.Helper()
	var requestCount int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requestCount, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			fmt.Fprint(w, `data: {"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"echo","arguments":"{}"}}]},"finish_reason":null}]}`+"\n")
		} else {
			fmt.Fprint(w, `data: {"id":"2","choices":[{"index":0,"delta":{"content":"done"},"finish_reason":"stop"}]}`+"\n")
		}
		fmt.Fprint(w, "data: [DONE]\n")
	}))
}

func TestRunTerminatesWhenNoToolCalls(t *testing.T) {
	srv := toolCallThenStopServer(t)
	defer srv.Close()

	et := &echoTool{}
	registry := tools.NewRegistry()
	registry.Register(et)

	client := chatclient.New(srv.URL, "key")
	a := New(client, "gpt-4o", registry)
	a.AddMessage(protocol.UserMessage("do the thing"))

	var out bytes.Buffer
	if err := a.Run(context.Background(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt32(&et.calls) != 1 {
		t.Fatalf("expected echo tool to run once, ran %d times", et.calls)
	}

	last := a.History[len(a.History)-1]
	if last.Role != protocol.RoleAssistant || last.ContentText() != "done" {
		t.Fatalf("expected final assistant message 'done', got %+v", last)
	}
}

func TestHistoryWellFormedAfterToolCall(t *testing.T) {
	srv := toolCallThenStopServer(t)
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(&echoTool{})

	client := chatclient.New(srv.URL, "key")
	a := New(client, "gpt-4o", registry)
	a.AddMessage(protocol.UserMessage("go"))

	if err := a.Run(context.Background(), &bytes.Buffer{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// user, assistant(tool_calls), tool, assistant(final)
	if len(a.History) != 4 {
		t.Fatalf("got %d history entries, want 4: %+v", len(a.History), a.History)
	}
	assistantWithCall := a.History[1]
	if assistantWithCall.Role != protocol.RoleAssistant || len(assistantWithCall.ToolCalls) != 1 {
		t.Fatalf("expected assistant message with one tool call, got %+v", assistantWithCall)
	}
	toolMsg := a.History[2]
	if toolMsg.Role != protocol.RoleTool || toolMsg.ToolCallID == nil || *toolMsg.ToolCallID != assistantWithCall.ToolCalls[0].ID {
		t.Fatalf("tool message does not correlate to the triggering tool call: %+v", toolMsg)
	}
}

func TestRunReturnsErrorWhenToolRoundsExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"echo","arguments":"{}"}}]},"finish_reason":null}]}`+"\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	registry := tools.NewRegistry()
	registry.Register(&echoTool{})

	client := chatclient.New(srv.URL, "key")
	a := New(client, "gpt-4o", registry)
	a.AddMessage(protocol.UserMessage("loop forever"))

	err := a.Run(context.Background(), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error once maxToolRounds is exceeded")
	}
}

func TestExecuteToolCallUnknownToolBecomesToolMessage(t *testing.T) {
	registry := tools.NewRegistry()
	client := chatclient.New("http://unused.invalid", "key")
	a := New(client, "gpt-4o", registry)

	msg := a.executeToolCall(context.Background(), protocol.ToolCall{
		ID:   "call_x",
		Kind: "function",
		Function: protocol.Function{
			Name:      "does_not_exist",
			Arguments: "{}",
		},
	})

	if msg.Role != protocol.RoleTool {
		t.Fatalf("got role %q, want tool", msg.Role)
	}
	if msg.ToolCallID == nil || *msg.ToolCallID != "call_x" {
		t.Fatalf("tool message not correlated to call id: %+v", msg)
	}
}
