// Package parser implements the plugin registry and capability protocol of
// §4.B: parsers are probed cheaply, sorted by priority, and dispatched by
// full, chunked, or incremental parse paths depending on what they support
// and what the caller needs.
package parser

import (
	"context"
	"time"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// Capability flags a parser can advertise.
type Capability string

const (
	CapabilityChunked     Capability = "chunked"
	CapabilityIncremental Capability = "incremental"
)

// Metadata is the static description every parser declares (§4.B).
type Metadata struct {
	Name              string
	Version           string
	SupportedFormats  []string
	Priority          int
	Capabilities      []Capability
}

// HasCapability reports whether m advertises cap.
func (m Metadata) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ProbeResult is the outcome of a cheap first-lines inspection.
type ProbeResult struct {
	CanParse   bool
	Confidence float64
	Reasons    []string
}

// PlanOperation is a single plan-mode operation tracked per plan file path (§4.C.1).
type PlanOperation struct {
	Kind      string // "create" or "edit"
	Content   string
	Timestamp time.Time
}

type PlanStatus string

const (
	PlanActive     PlanStatus = "active"
	PlanApproved   PlanStatus = "approved"
	PlanReferenced PlanStatus = "referenced"
)

type Plan struct {
	FilePath          string
	InitialContent    string
	FinalContent      string
	IterationCount    int
	Operations        []PlanOperation
	Status            PlanStatus
	EntryMessageIndex int
	ExitMessageIndex  int
}

// ConversationMetadata is extracted from the first lines of a log (§4.C
// item 4): session id, agent version, working directory, git branch,
// parent session id when present.
type ConversationMetadata struct {
	SessionID       string
	AgentVersion    string
	WorkingDirectory string
	GitBranch       string
	ParentSessionID string
}

// ParsedConversation is the result of a complete parse.
type ParsedConversation struct {
	Metadata         ConversationMetadata
	Messages         []domain.Message
	Plans            []Plan
	ConversationType domain.ConversationType
	Warnings         []string
}

// MessageChunk is one bounded batch from a chunked parse (§4.B).
type MessageChunk struct {
	Messages    []domain.Message
	NextOffset  int64
	NextLine    int
	IsLast      bool
	PartialHash string
	FileSize    int64
}

// IncrementalResult carries only the messages newly appended since
// last_offset, plus the updated cursor state (§4.B).
type IncrementalResult struct {
	Messages    []domain.Message
	NextOffset  int64
	NextLine    int
	PartialHash string
	FileSize    int64
}

// Parser is the capability protocol a concrete format parser implements.
// Chunked and incremental support are optional — callers type-assert against
// ChunkedParser / IncrementalParser before using those paths.
type Parser interface {
	Metadata() Metadata
	Probe(ctx context.Context, path string) (ProbeResult, error)
	Parse(ctx context.Context, path string) (*ParsedConversation, error)
}

// ChunkedParser is implemented by parsers offering the bounded-memory path.
type ChunkedParser interface {
	Parser
	ParseMetadata(ctx context.Context, path string) (ConversationMetadata, error)
	ParseMessages(ctx context.Context, path string, offset int64, limit int) (*MessageChunk, error)
}

// IncrementalParser is implemented by parsers that can resume from a prior
// offset without a full reparse.
type IncrementalParser interface {
	Parser
	SupportsIncremental(ctx context.Context, path string) (bool, error)
	ParseIncremental(ctx context.Context, path string, lastOffset int64, lastLine int) (*IncrementalResult, error)
}
