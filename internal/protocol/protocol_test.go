package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAssistantMessageOmitsContentWhenEmpty(t *testing.T) {
	msg := AssistantMessage("", []ToolCall{{ID: "1", Kind: "function", Function: Function{Name: "x", Arguments: "{}"}}})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"content"`) {
		t.Fatalf("expected content field to be omitted, got %s", data)
	}
}

func TestAssistantMessageKeepsNonEmptyContent(t *testing.T) {
	msg := AssistantMessage("hello", nil)
	if msg.ContentText() != "hello" {
		t.Fatalf("got %q", msg.ContentText())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"content":"hello"`) {
		t.Fatalf("expected content field present, got %s", data)
	}
}

func TestToolMessageCarriesCorrelationFields(t *testing.T) {
	msg := ToolMessage("result text", "call_1", "my_tool")
	if msg.Role != RoleTool {
		t.Fatalf("got role %q, want tool", msg.Role)
	}
	if msg.ToolCallID == nil || *msg.ToolCallID != "call_1" {
		t.Fatalf("tool call id not set correctly: %+v", msg.ToolCallID)
	}
	if msg.Name == nil || *msg.Name != "my_tool" {
		t.Fatalf("tool name not set correctly: %+v", msg.Name)
	}
}

func TestContentTextHandlesNilContent(t *testing.T) {
	msg := Message{Role: RoleAssistant}
	if got := msg.ContentText(); got != "" {
		t.Fatalf("got %q, want empty string for nil content", got)
	}
}
