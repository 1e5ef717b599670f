package mcp

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestStdioRunEchoesPingResponse(t *testing.T) {
	s := NewServer(nil)

	input := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	stdio := NewStdio(s, input, &out)
	if err := stdio.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode response: %v, raw=%q", err, out.String())
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestStdioRunSkipsNotifications(t *testing.T) {
	s := NewServer(nil)

	input := strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}` + "\n")
	var out bytes.Buffer

	stdio := NewStdio(s, input, &out)
	if err := stdio.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no response written for a notification, got %q", out.String())
	}
}

func TestStdioRunHandlesParseError(t *testing.T) {
	s := NewServer(nil)

	input := strings.NewReader("not json\n")
	var out bytes.Buffer

	stdio := NewStdio(s, input, &out)
	if err := stdio.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("expected parse error response, got %+v", resp.Error)
	}
}
