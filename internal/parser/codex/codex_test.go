package codex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

func writeLog(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "rollout.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestProbeRecognizesEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"session_meta","payload":{"session_id":"sess-1"}}`,
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

func TestParseEnvelopeMessages(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"session_meta","payload":{"session_id":"sess-1"}}`,
		`{"type":"event_msg","payload":{"type":"user_message","payload":{"message":"hello"}}}`,
		`{"type":"event_msg","payload":{"type":"agent_message","payload":{"message":"hi there"}}}`,
	})

	p := New()
	parsed, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Metadata.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", parsed.Metadata.SessionID)
	}
	if len(parsed.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed.Messages))
	}
	if parsed.Messages[0].Role != domain.RoleUser || parsed.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected roles: %v, %v", parsed.Messages[0].Role, parsed.Messages[1].Role)
	}
}

func TestParseEmptySessionIsMetadataType(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, []string{
		`{"type":"session_meta","payload":{"session_id":"sess-1"}}`,
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
