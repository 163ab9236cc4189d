// Package codex implements §4.C's JSONL dialect parser for OpenAI Codex
// CLI rollout logs, grounded on the envelope framing read by
// mrf-agent-racer/backend/internal/monitor/codex_source.go: a top-level
// {type, payload} envelope wrapping session_meta / event_msg /
// response_item records, with an older bare-record format as fallback.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/hashutil"
	"github.com/kulesh/catsyphon-sub001/internal/parser"
)

const (
	name     = "codex"
	priority = 40
)

func init() {
	parser.RegisterConstructor("codex.New", func(m parser.Manifest) (parser.Parser, error) {
		return New(), nil
	})
}

// Parser implements parser.Parser and parser.ChunkedParser for the Codex
// rollout dialect. Codex rollouts are not offered as incremental — the
// envelope/bare-format detection in parseLine depends on whether a line is
// first-in-file, which a partial-offset resume cannot reliably reconstruct,
// so Codex always falls through to a full reparse on REWRITE/TRUNCATE and
// relies on the registry's priority ordering to prefer claude-code's
// incremental path when both could open a file.
type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Metadata() parser.Metadata {
	return parser.Metadata{
		Name:             name,
		Version:          "1.0.0",
		SupportedFormats: []string{".jsonl"},
		Priority:         priority,
		Capabilities:     []parser.Capability{parser.CapabilityChunked},
	}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionMeta struct {
	SessionID      string          `json:"session_id"`
	ConversationID string          `json:"conversation_id"`
	Model          json.RawMessage `json:"model"`
	Timestamp      string          `json:"timestamp"`
}

type eventMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type responseItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolName  string          `json:"tool_name"`
	Name      string          `json:"name"`
	ToolUseID string          `json:"tool_use_id"`
}

func (p *Parser) Probe(ctx context.Context, path string) (parser.ProbeResult, error) {
	scanner, err := parser.OpenLineScanner(path, 0)
	if err != nil {
		return parser.ProbeResult{}, err
	}
	defer scanner.Close()

	seen := 0
	for seen < 10 {
		line, ok, err := scanner.Next()
		if err != nil {
			return parser.ProbeResult{}, err
		}
		if !ok {
			break
		}
		seen++
		var e envelope
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		if e.Type == "session_meta" || e.Type == "event_msg" || e.Type == "response_item" {
			return parser.ProbeResult{CanParse: true, Confidence: 0.9, Reasons: []string{"codex envelope type " + e.Type}}, nil
		}
		var meta sessionMeta
		if json.Unmarshal(line, &meta) == nil && (meta.SessionID != "" || meta.ConversationID != "") {
			return parser.ProbeResult{CanParse: true, Confidence: 0.6, Reasons: []string{"bare session_meta header"}}, nil
		}
	}
	return parser.ProbeResult{CanParse: false, Reasons: []string{"no codex envelope or session_meta header found"}}, nil
}

func (p *Parser) Parse(ctx context.Context, path string) (*parser.ParsedConversation, error) {
	scanner, err := parser.OpenLineScanner(path, 0)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	var meta parser.ConversationMetadata
	var messages []domain.Message
	var warnings []string
	sequence := 0
	lineNo := 0
	firstLine := true

	for {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		lineNo++

		msg, sessionID, handled, skipErr := convertLine(line, firstLine, &sequence)
		firstLine = false
		if skipErr != nil {
			warnings = append(warnings, fmt.Sprintf("line %d: %v, skipped", lineNo, skipErr))
			continue
		}
		if sessionID != "" && meta.SessionID == "" {
			meta.SessionID = sessionID
		}
		if handled {
			messages = append(messages, msg)
		}
	}

	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })
	for i := range messages {
		messages[i].Sequence = i
	}

	convType := domain.ConversationMain
	if len(messages) == 0 {
		convType = domain.ConversationMetadata
	}

	return &parser.ParsedConversation{
		Metadata:         meta,
		Messages:         messages,
		ConversationType: convType,
		Warnings:         warnings,
	}, nil
}

func (p *Parser) ParseMetadata(ctx context.Context, path string) (parser.ConversationMetadata, error) {
	scanner, err := parser.OpenLineScanner(path, 0)
	if err != nil {
		return parser.ConversationMetadata{}, err
	}
	defer scanner.Close()

	var meta parser.ConversationMetadata
	for i := 0; i < 10; i++ {
		line, ok, err := scanner.Next()
		if err != nil {
			return meta, err
		}
		if !ok {
			break
		}
		var e envelope
		if json.Unmarshal(line, &e) == nil && e.Type == "session_meta" {
			var m sessionMeta
			if json.Unmarshal(e.Payload, &m) == nil {
				meta.SessionID = firstNonEmpty(m.SessionID, m.ConversationID)
				return meta, nil
			}
		}
		var m sessionMeta
		if json.Unmarshal(line, &m) == nil && (m.SessionID != "" || m.ConversationID != "") {
			meta.SessionID = firstNonEmpty(m.SessionID, m.ConversationID)
			return meta, nil
		}
	}
	return meta, nil
}

func (p *Parser) ParseMessages(ctx context.Context, path string, offset int64, limit int) (*parser.MessageChunk, error) {
	scanner, err := parser.OpenLineScanner(path, offset)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	var messages []domain.Message
	sequence := 0
	firstLine := offset == 0
	for len(messages) < limit {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		msg, _, handled, _ := convertLine(line, firstLine, &sequence)
		firstLine = false
		if handled {
			messages = append(messages, msg)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	partialHash, err := hashutil.PartialHash(path, scanner.Offset())
	if err != nil {
		return nil, err
	}

	return &parser.MessageChunk{
		Messages:    messages,
		NextOffset:  scanner.Offset(),
		NextLine:    scanner.LineNumber(),
		IsLast:      scanner.Offset() >= info.Size(),
		PartialHash: partialHash,
		FileSize:    info.Size(),
	}, nil
}

// convertLine filters non-conversational records and converts a
// conversational one into a domain.Message. Returns the extracted session
// id (when the line was a session_meta header) regardless of handled.
func convertLine(line []byte, firstLine bool, sequence *int) (msg domain.Message, sessionID string, handled bool, err error) {
	var e envelope
	if json.Unmarshal(line, &e) != nil {
		return domain.Message{}, "", false, fmt.Errorf("malformed JSON")
	}

	if e.Type != "" && e.Payload != nil {
		return convertEnvelope(e.Type, e.Payload, sequence)
	}

	if firstLine {
		var m sessionMeta
		if json.Unmarshal(line, &m) == nil {
			return domain.Message{}, firstNonEmpty(m.SessionID, m.ConversationID), false, nil
		}
	}

	var item responseItem
	if json.Unmarshal(line, &item) != nil {
		return domain.Message{}, "", false, fmt.Errorf("unrecognized record shape")
	}
	return convertResponseItem(item, sequence)
}

func convertEnvelope(typ string, payload json.RawMessage, sequence *int) (domain.Message, string, bool, error) {
	switch typ {
	case "session_meta":
		var m sessionMeta
		if json.Unmarshal(payload, &m) != nil {
			return domain.Message{}, "", false, nil
		}
		return domain.Message{}, firstNonEmpty(m.SessionID, m.ConversationID), false, nil
	case "response_item":
		var item responseItem
		if json.Unmarshal(payload, &item) != nil {
			return domain.Message{}, "", false, fmt.Errorf("malformed response_item")
		}
		return convertResponseItem(item, sequence)
	case "event_msg":
		var ev eventMsg
		if json.Unmarshal(payload, &ev) != nil {
			return domain.Message{}, "", false, nil
		}
		return convertEventMsg(ev, sequence)
	default:
		return domain.Message{}, "", false, nil
	}
}

func convertEventMsg(ev eventMsg, sequence *int) (domain.Message, string, bool, error) {
	var role domain.MessageRole
	switch ev.Type {
	case "user_message":
		role = domain.RoleUser
	case "agent_message":
		role = domain.RoleAssistant
	default:
		return domain.Message{}, "", false, nil
	}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(ev.Payload, &body)

	msg := domain.Message{
		ID:       uuid.Must(uuid.NewV7()),
		Sequence: *sequence,
		Role:     role,
		Content:  body.Message,
		RawData:  ev.Payload,
	}
	*sequence++
	return msg, "", true, nil
}

func convertResponseItem(item responseItem, sequence *int) (domain.Message, string, bool, error) {
	var role domain.MessageRole
	switch item.Type {
	case "message":
		switch item.Role {
		case "user":
			role = domain.RoleUser
		case "assistant":
			role = domain.RoleAssistant
		default:
			return domain.Message{}, "", false, nil
		}
	default:
		return domain.Message{}, "", false, nil
	}

	var content string
	if len(item.Content) > 0 {
		if item.Content[0] == '"' {
			_ = json.Unmarshal(item.Content, &content)
		}
	}

	msg := domain.Message{
		ID:       uuid.Must(uuid.NewV7()),
		Sequence: *sequence,
		Role:     role,
		Content:  content,
		Timestamp: time.Time{},
	}
	*sequence++
	return msg, "", true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
