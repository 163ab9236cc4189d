package parser

import (
	"context"
	"sort"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
)

// Registry holds every registered parser and dispatches by probing,
// grounded on the priority/format-mismatch ordering from
// original_source/backend/src/catsyphon/parsers/registry.py.
type Registry struct {
	parsers []Parser
}

// NewRegistry returns an empty registry. Parsers are added via Register,
// either built-in (compile-time) or by manifest-driven construction (see
// LoadManifests) — Go has no safe runtime dynamic-linking story, so
// "external module" loading is a second compile-time registration guarded
// by configuration rather than a dynamic import.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p to the registry. Safe to call repeatedly at startup;
// the registry is not safe for concurrent Register calls once dispatch has
// begun, matching the context-construction-time registration note in §9.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// formatMismatch is 1 when none of p's supported formats match the file
// extension, 0 otherwise — used as the tie-breaking penalty in the
// registry ordering formula.
func formatMismatch(p Parser, ext string) int {
	for _, f := range p.Metadata().SupportedFormats {
		if f == ext {
			return 0
		}
	}
	return 1
}

// sorted returns the registry's parsers ordered by
// (priority − 100·format_mismatch) descending, per §4.B.
func (r *Registry) sorted(ext string) []Parser {
	ordered := make([]Parser, len(r.parsers))
	copy(ordered, r.parsers)
	sort.SliceStable(ordered, func(i, j int) bool {
		scoreI := ordered[i].Metadata().Priority - 100*formatMismatch(ordered[i], ext)
		scoreJ := ordered[j].Metadata().Priority - 100*formatMismatch(ordered[j], ext)
		return scoreI > scoreJ
	})
	return ordered
}

// Dispatch probes registered parsers in priority order and returns the
// first that can parse path. Raises UnknownFormat if none can.
func (r *Registry) Dispatch(ctx context.Context, path, ext string) (Parser, error) {
	for _, p := range r.sorted(ext) {
		result, err := p.Probe(ctx, path)
		if err != nil {
			continue
		}
		if result.CanParse {
			return p, nil
		}
	}
	return nil, apperr.New(apperr.UnknownFormat, "no registered parser can open "+path)
}
