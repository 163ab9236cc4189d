package claudecode

import (
	"regexp"

	"github.com/kulesh/catsyphon-sub001/internal/parser"
)

// planMarker matches the inline tagged region naming a plan file path
// (§4.C.1): "<plan_file>path/to/PLAN.md</plan_file>" in a user message.
var planMarker = regexp.MustCompile(`<plan_file>([^<]+)</plan_file>`)

// planTracker accumulates per-plan-file-path state while a conversation is
// being converted, one instance per parse.
type planTracker struct {
	active  map[string]*parser.Plan
	current string // most recently marked plan path, for attributing writes
}

func newPlanTracker() *planTracker {
	return &planTracker{active: make(map[string]*parser.Plan)}
}

// observeText scans a text block for the plan marker, tracking which plan
// path subsequent tool writes should be attributed to.
func (t *planTracker) observeText(text string, messageIndex int) {
	m := planMarker.FindStringSubmatch(text)
	if m == nil {
		return
	}
	path := m[1]
	t.current = path
	if _, ok := t.active[path]; !ok {
		t.active[path] = &parser.Plan{FilePath: path, Status: parser.PlanActive, EntryMessageIndex: messageIndex}
	}
}

// observeToolUse records a create/edit operation against the currently
// marked plan path.
func (t *planTracker) observeToolUse(b contentBlock, messageIndex int) {
	if t.current == "" {
		return
	}
	change, ok := codeChangeFromToolUse(b)
	if !ok || change.FilePath != t.current {
		return
	}

	plan, exists := t.active[t.current]
	if !exists {
		plan = &parser.Plan{FilePath: t.current, Status: parser.PlanActive, EntryMessageIndex: messageIndex}
		t.active[t.current] = plan
	}

	op := parser.PlanOperation{Content: change.NewContent}
	if change.ChangeType == "create" {
		op.Kind = "create"
		plan.InitialContent = change.NewContent
		plan.IterationCount = 1
	} else {
		op.Kind = "edit"
		plan.IterationCount++
	}
	plan.FinalContent = change.NewContent
	plan.Operations = append(plan.Operations, op)
	plan.ExitMessageIndex = messageIndex
	if plan.Status != parser.PlanApproved {
		plan.Status = parser.PlanActive
	}
}

// observeExit marks the currently tracked plan approved when an
// exit-plan-mode tool invocation is seen.
func (t *planTracker) observeExit(messageIndex int) {
	if t.current == "" {
		return
	}
	plan, exists := t.active[t.current]
	if !exists {
		plan = &parser.Plan{FilePath: t.current, Status: parser.PlanReferenced}
		t.active[t.current] = plan
	}
	plan.Status = parser.PlanApproved
	plan.ExitMessageIndex = messageIndex
}

// plans returns the accumulated plans. A plan with no write operations
// (only ever referenced via the marker, never created or edited) is
// reported as PlanReferenced.
func (t *planTracker) plans() []parser.Plan {
	out := make([]parser.Plan, 0, len(t.active))
	for _, p := range t.active {
		if len(p.Operations) == 0 && p.Status != parser.PlanApproved {
			p.Status = parser.PlanReferenced
		}
		out = append(out, *p)
	}
	return out
}
