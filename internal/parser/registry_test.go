package parser

import (
	"context"
	"testing"
)

type fakeParser struct {
	meta     Metadata
	canParse bool
}

func (f *fakeParser) Metadata() Metadata { return f.meta }
func (f *fakeParser) Probe(ctx context.Context, path string) (ProbeResult, error) {
	return ProbeResult{CanParse: f.canParse}, nil
}
func (f *fakeParser) Parse(ctx context.Context, path string) (*ParsedConversation, error) {
	return &ParsedConversation{}, nil
}

func TestDispatchPrefersHigherPriority(t *testing.T) {
	r := NewRegistry()
	low := &fakeParser{meta: Metadata{Name: "low", Priority: 40, SupportedFormats: []string{".jsonl"}}, canParse: true}
	high := &fakeParser{meta: Metadata{Name: "high", Priority: 60, SupportedFormats: []string{".jsonl"}}, canParse: true}
	r.Register(low)
	r.Register(high)

	got, err := r.Dispatch(context.Background(), "session.jsonl", ".jsonl")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.Metadata().Name != "high" {
		t.Fatalf("expected high-priority parser to win, got %s", got.Metadata().Name)
	}
}

func TestDispatchSkipsParsersThatCannotProbe(t *testing.T) {
	r := NewRegistry()
	cannot := &fakeParser{meta: Metadata{Name: "cannot", Priority: 90, SupportedFormats: []string{".jsonl"}}, canParse: false}
	can := &fakeParser{meta: Metadata{Name: "can", Priority: 10, SupportedFormats: []string{".jsonl"}}, canParse: true}
	r.Register(cannot)
	r.Register(can)

	got, err := r.Dispatch(context.Background(), "session.jsonl", ".jsonl")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.Metadata().Name != "can" {
		t.Fatalf("expected fallback to the parser that can probe, got %s", got.Metadata().Name)
	}
}

func TestDispatchUnknownFormat(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeParser{meta: Metadata{Name: "x", Priority: 50}, canParse: false})

	if _, err := r.Dispatch(context.Background(), "session.weird", ".weird"); err == nil {
		t.Fatal("expected UnknownFormat error when no parser can probe")
	}
}

func TestFormatMismatchPenalty(t *testing.T) {
	r := NewRegistry()
	mismatched := &fakeParser{meta: Metadata{Name: "mismatched", Priority: 90, SupportedFormats: []string{".txt"}}, canParse: true}
	matched := &fakeParser{meta: Metadata{Name: "matched", Priority: 10, SupportedFormats: []string{".jsonl"}}, canParse: true}
	r.Register(mismatched)
	r.Register(matched)

	ordered := r.sorted(".jsonl")
	if ordered[0].Metadata().Name != "matched" {
		t.Fatalf("expected matched format to outrank mismatched despite lower priority, got order %v", ordered)
	}
}
