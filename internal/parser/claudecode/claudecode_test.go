package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

func writeLog(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestProbeRecognizesClaudeEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"user","uuid":"u1","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hi"}}`,
	})

	p := New()
	result, err := p.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !result.CanParse {
		t.Fatalf("expected CanParse=true, reasons=%v", result.Reasons)
	}
}

func TestParseFiltersNonConversationalAndSortsByTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"summary","uuid":"u0","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z"}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:05Z","message":{"role":"assistant","model":"claude","content":[{"type":"text","text":"second"}]}}`,
		`{"type":"user","uuid":"u1","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"user","content":"first"}}`,
		`not json at all`,
	})

	p := New()
	parsed, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Warnings) != 1 {
		t.Fatalf("expected 1 warning for the malformed line, got %d: %v", len(parsed.Warnings), parsed.Warnings)
	}
	if len(parsed.Messages) != 2 {
		t.Fatalf("expected 2 conversational messages (summary filtered out), got %d", len(parsed.Messages))
	}
	if parsed.Messages[0].Content != "first" {
		t.Fatalf("expected chronological order, first message was %q", parsed.Messages[0].Content)
	}
	if parsed.ConversationType != domain.ConversationMain {
		t.Fatalf("expected main conversation type, got %s", parsed.ConversationType)
	}
}

func TestParseEmptyYieldsMetadataType(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"summary","uuid":"u0","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z"}`,
	})

	p := New()
	parsed, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ConversationType != domain.ConversationMetadata {
		t.Fatalf("expected metadata conversation type, got %s", parsed.ConversationType)
	}
}

func TestToolUseResultPairing(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"assistant","uuid":"u1","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{}}]}}`,
		`{"type":"user","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}}`,
	})

	p := New()
	parsed, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed.Messages))
	}
	if len(parsed.Messages[0].ToolCalls) != 1 || parsed.Messages[0].ToolCalls[0].ToolUseID != "t1" {
		t.Fatalf("expected tool call t1 on first message")
	}
	if len(parsed.Messages[1].ToolResults) != 1 || parsed.Messages[1].ToolResults[0].ToolUseID != "t1" {
		t.Fatalf("expected tool result t1 on second message")
	}
}

func TestParseMessagesSingleChunkCoversWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"user","uuid":"u1","sessionId":"s1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"one"}}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"two"}]}}`,
	})

	p := New()
	chunk, err := p.ParseMessages(context.Background(), path, 0, 10)
	if err != nil {
		t.Fatalf("parse messages: %v", err)
	}
	if len(chunk.Messages) != 2 {
		t.Fatalf("expected 2 messages in chunk, got %d", len(chunk.Messages))
	}
	if !chunk.IsLast {
		t.Fatalf("expected IsLast=true for a chunk covering the whole file")
	}
}
