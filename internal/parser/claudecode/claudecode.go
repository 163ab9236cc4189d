// Package claudecode implements §4.C's JSONL dialect parser for Claude
// Code session logs, grounded on the envelope shape read by
// mrf-agent-racer/backend/internal/monitor/jsonl.go (type/uuid/sessionId/
// timestamp/message, with message.content an array of typed blocks).
package claudecode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/hashutil"
	"github.com/kulesh/catsyphon-sub001/internal/parser"
)

const (
	name     = "claude-code"
	priority = 60
)

func init() {
	parser.RegisterConstructor("claudecode.New", func(m parser.Manifest) (parser.Parser, error) {
		return New(), nil
	})
}

// Parser implements parser.Parser, parser.ChunkedParser and
// parser.IncrementalParser for the Claude Code dialect.
type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Metadata() parser.Metadata {
	return parser.Metadata{
		Name:             name,
		Version:          "1.0.0",
		SupportedFormats: []string{".jsonl"},
		Priority:         priority,
		Capabilities:     []parser.Capability{parser.CapabilityChunked, parser.CapabilityIncremental},
	}
}

// entry mirrors jsonlEntry from the teacher's monitor package.
type entry struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	SessionID string          `json:"sessionId"`
	ParentUUID string         `json:"parentUuid"`
	Timestamp string          `json:"timestamp"`
	CWD       string          `json:"cwd"`
	GitBranch string          `json:"gitBranch"`
	Version   string          `json:"version"`
	Message   json.RawMessage `json:"message"`
}

type messageContent struct {
	Model   string          `json:"model"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

const (
	editToolName  = "Edit"
	writeToolName = "Write"
	planExitTool  = "ExitPlanMode"
)

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
		var e entry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		if e.UUID != "" && e.SessionID != "" {
			return parser.ProbeResult{CanParse: true, Confidence: 0.95, Reasons: []string{"uuid+sessionId fields present"}}, nil
		}
	}
	if seen == 0 {
		return parser.ProbeResult{CanParse: false, Reasons: []string{"empty file"}}, nil
	}
	return parser.ProbeResult{CanParse: false, Reasons: []string{"no claude-code envelope fields found in first lines"}}, nil
}

func (p *Parser) Parse(ctx context.Context, path string) (*parser.ParsedConversation, error) {
	chunk, err := p.parseAll(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	return chunk, nil
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
		var e entry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		if meta.SessionID == "" {
			meta.SessionID = e.SessionID
		}
		if meta.WorkingDirectory == "" {
			meta.WorkingDirectory = e.CWD
		}
		if meta.GitBranch == "" {
			meta.GitBranch = e.GitBranch
		}
		if meta.AgentVersion == "" {
			meta.AgentVersion = e.Version
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

	tracker := newPlanTracker()
	var messages []domain.Message
	sequence := 0
	for len(messages) < limit {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		msg, handled := convertLine(line, &sequence, tracker)
		if handled {
			messages = append(messages, msg)
		}
	}

	info, err := fileStat(path)
	if err != nil {
		return nil, err
	}
	partialHash, err := partialHashAt(path, scanner.Offset())
	if err != nil {
		return nil, err
	}

	return &parser.MessageChunk{
		Messages:    messages,
		NextOffset:  scanner.Offset(),
		NextLine:    scanner.LineNumber(),
		IsLast:      scanner.Offset() >= info,
		PartialHash: partialHash,
		FileSize:    info,
	}, nil
}

func (p *Parser) SupportsIncremental(ctx context.Context, path string) (bool, error) {
	return true, nil
}

func (p *Parser) ParseIncremental(ctx context.Context, path string, lastOffset int64, lastLine int) (*parser.IncrementalResult, error) {
	scanner, err := parser.OpenLineScanner(path, lastOffset)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	tracker := newPlanTracker()
	var messages []domain.Message
	sequence := lastLine
	for {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		msg, handled := convertLine(line, &sequence, tracker)
		if handled {
			messages = append(messages, msg)
		}
	}

	info, err := fileStat(path)
	if err != nil {
		return nil, err
	}
	partialHash, err := partialHashAt(path, scanner.Offset())
	if err != nil {
		return nil, err
	}

	return &parser.IncrementalResult{
		Messages:    messages,
		NextOffset:  scanner.Offset(),
		NextLine:    scanner.LineNumber() + lastLine,
		PartialHash: partialHash,
		FileSize:    info,
	}, nil
}

// parseAll performs a complete parse from startOffset, used by Parse.
func (p *Parser) parseAll(ctx context.Context, path string, startOffset int64) (*parser.ParsedConversation, error) {
	scanner, err := parser.OpenLineScanner(path, startOffset)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	meta := parser.ConversationMetadata{}
	tracker := newPlanTracker()
	var messages []domain.Message
	var warnings []string
	sequence := 0
	lineNo := 0

	for {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		lineNo++

		var e entry
		if json.Unmarshal(line, &e) != nil {
			warnings = append(warnings, fmt.Sprintf("line %d: malformed JSON, skipped", lineNo))
			continue
		}
		if meta.SessionID == "" && e.SessionID != "" {
			meta.SessionID = e.SessionID
		}
		if meta.WorkingDirectory == "" && e.CWD != "" {
			meta.WorkingDirectory = e.CWD
		}
		if meta.GitBranch == "" && e.GitBranch != "" {
			meta.GitBranch = e.GitBranch
		}
		if meta.AgentVersion == "" && e.Version != "" {
			meta.AgentVersion = e.Version
		}

		msg, handled := convertLine(line, &sequence, tracker)
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
		Plans:            tracker.plans(),
		ConversationType: convType,
		Warnings:         warnings,
	}, nil
}

// convertLine filters non-conversational records (§4.C item 2) and converts
// a conversational one into a domain.Message; the bool return reports
// whether the line produced a message.
func convertLine(line []byte, sequence *int, tracker *planTracker) (domain.Message, bool) {
	var e entry
	if json.Unmarshal(line, &e) != nil {
		return domain.Message{}, false
	}

	var role domain.MessageRole
	switch e.Type {
	case "user":
		role = domain.RoleUser
	case "assistant":
		role = domain.RoleAssistant
	case "system":
		role = domain.RoleSystem
	default:
		return domain.Message{}, false // summaries, file-history snapshots, metadata-only
	}

	var mc messageContent
	_ = json.Unmarshal(e.Message, &mc)

	ts, _ := time.Parse(time.RFC3339Nano, e.Timestamp)

	msg := domain.Message{
		ID:        uuid.Must(uuid.NewV7()),
		Sequence:  *sequence,
		Role:      role,
		Timestamp: ts,
		Model:     mc.Model,
		RawData:   line,
	}
	*sequence++

	var blocks []contentBlock
	if len(mc.Content) > 0 {
		if mc.Content[0] == '"' {
			var text string
			if json.Unmarshal(mc.Content, &text) == nil {
				msg.Content = text
			}
		} else {
			_ = json.Unmarshal(mc.Content, &blocks)
		}
	}

	var textParts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
			tracker.observeText(b.Text, msg.Sequence)
		case "thinking":
			msg.ThinkingContent = b.Text
		case "tool_use":
			toolCall := domain.ToolCall{ToolUseID: b.ID, Name: b.Name, Parameters: b.Input}
			msg.ToolCalls = append(msg.ToolCalls, toolCall)
			if change, ok := codeChangeFromToolUse(b); ok {
				msg.CodeChanges = append(msg.CodeChanges, change)
				tracker.observeToolUse(b, msg.Sequence)
			}
			if b.Name == planExitTool {
				tracker.observeExit(msg.Sequence)
			}
		case "tool_result":
			isErr := b.IsError
			msg.ToolResults = append(msg.ToolResults, domain.ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   isErr,
			})
		}
	}
	if msg.Content == "" && len(textParts) > 0 {
		msg.Content = strings.Join(textParts, "\n")
	}

	return msg, true
}

func codeChangeFromToolUse(b contentBlock) (domain.CodeChange, bool) {
	var input struct {
		FilePath  string `json:"file_path"`
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
		Content   string `json:"content"`
	}
	if json.Unmarshal(b.Input, &input) != nil {
		return domain.CodeChange{}, false
	}
	switch b.Name {
	case editToolName:
		return domain.CodeChange{
			FilePath:   input.FilePath,
			ChangeType: domain.CodeChangeEdit,
			OldContent: input.OldString,
			NewContent: input.NewString,
		}, true
	case writeToolName:
		return domain.CodeChange{
			FilePath:   input.FilePath,
			ChangeType: domain.CodeChangeCreate,
			NewContent: input.Content,
		}, true
	}
	return domain.CodeChange{}, false
}

func fileStat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func partialHashAt(path string, offset int64) (string, error) {
	return hashutil.PartialHash(path, offset)
}
