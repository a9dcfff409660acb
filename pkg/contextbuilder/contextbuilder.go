// Package contextbuilder models repo-wide retrieval/indexing as an opaque
// external collaborator: the core consumes it as a capability and never
// implements symbol/import/code-query indexing itself. This package defines
// that contract plus a minimal in-memory Builder good enough to drive the
// orchestrator end to end without a real retrieval backend — an optional
// quality layer that can only narrow or rank within a candidate set.
package contextbuilder

import (
	"context"
	"sort"
	"strings"

	"github.com/revkit/rev/pkg/provider"
)

// ToolSchema is one selected tool's provider-facing schema, reusing the
// provider package's tool-definition shape.
type ToolSchema = provider.ToolDefinition

// Request is the input contract: a single next task's description, the
// running conversation/work context, the full tool universe available in
// this session, an optional pre-narrowed candidate set, and a cap on how
// many tool schemas may be returned.
type Request struct {
	Task              string
	Context           string
	FullToolUniverse  []ToolSchema
	CandidateNames    []string
	MaxTools          int
}

// Meta carries retrieval diagnostics the caller may log but never
// branches on.
type Meta struct {
	UsedFallback   bool
	CandidateCount int
	SelectedCount  int
}

// Result is the output contract: a rendered context string ready to
// prepend to the LLM prompt, the selected tool schemas, and diagnostics.
type Result struct {
	RenderedContext string
	SelectedTools   []ToolSchema
	Meta            Meta
}

// Builder is the context-builder capability the orchestrator holds.
type Builder interface {
	Build(ctx context.Context, req Request) (Result, error)
}

// DefaultBuilder is a dependency-free Builder: it renders the task and
// context verbatim and selects tools by naive keyword-overlap ranking.
// A real deployment replaces this with a retrieval-backed implementation
// (embeddings, symbol indices, code search) behind the same Builder
// interface; the core does not care which.
type DefaultBuilder struct{}

// NewDefaultBuilder creates a DefaultBuilder.
func NewDefaultBuilder() *DefaultBuilder {
	return &DefaultBuilder{}
}

// Build implements Builder. It enforces a hard-filter contract: when
// CandidateNames is non-empty, selection is restricted to
// that set — ranking may only narrow or reorder within it, never escape
// it. If ranking's top-K would otherwise intersect the candidate set
// emptily, the candidate set itself (truncated to MaxTools) is returned
// instead.
func (b *DefaultBuilder) Build(ctx context.Context, req Request) (Result, error) {
	universe := req.FullToolUniverse
	maxTools := req.MaxTools
	if maxTools <= 0 {
		maxTools = len(universe)
	}

	hasCandidates := len(req.CandidateNames) > 0
	var candidatePool []ToolSchema
	if hasCandidates {
		candidatePool = filterByNames(universe, req.CandidateNames)
	}

	// Retrieval ranks across the full universe and takes its own top-K,
	// then — when a candidate set was supplied — the result is
	// intersected with it; the candidate set is never widened, only
	// narrowed or reordered within.
	rankedUniverse := rankByOverlap(universe, req.Task+" "+req.Context)
	topK := rankedUniverse
	if len(topK) > maxTools {
		topK = topK[:maxTools]
	}

	var selected []ToolSchema
	usedFallback := false
	if hasCandidates {
		allow := namesOf(candidatePool)
		for _, t := range topK {
			if allow[t.Name] {
				selected = append(selected, t)
			}
		}
		if len(selected) == 0 {
			// Top-K intersected the candidate set emptily: fall back to
			// the raw candidate set truncated to MaxTools.
			selected = candidatePool
			usedFallback = true
		}
	} else {
		selected = topK
	}

	if len(selected) > maxTools {
		selected = selected[:maxTools]
	}

	candidateCount := len(universe)
	if hasCandidates {
		candidateCount = len(candidatePool)
	}

	return Result{
		RenderedContext: renderContext(req.Task, req.Context),
		SelectedTools:   selected,
		Meta: Meta{
			UsedFallback:   usedFallback,
			CandidateCount: candidateCount,
			SelectedCount:  len(selected),
		},
	}, nil
}

func namesOf(tools []ToolSchema) map[string]bool {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t.Name] = true
	}
	return set
}

func renderContext(task, ctxText string) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(task)
	b.WriteString("\n")
	if ctxText != "" {
		b.WriteString("\n## Context\n")
		b.WriteString(ctxText)
		b.WriteString("\n")
	}
	return b.String()
}

func filterByNames(tools []ToolSchema, names []string) []ToolSchema {
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		if allow[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

type scoredTool struct {
	tool  ToolSchema
	score int
}

// rankByOverlap scores each tool by how many of its description's words
// appear in query, a retrieval-free stand-in for real semantic ranking.
// Ties preserve the input order (stable sort) so behavior is
// deterministic without a backing index.
func rankByOverlap(tools []ToolSchema, query string) []ToolSchema {
	queryWords := wordSet(query)
	scored := make([]scoredTool, len(tools))
	for i, t := range tools {
		scored[i] = scoredTool{tool: t, score: overlapScore(t, queryWords)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	out := make([]ToolSchema, len(scored))
	for i, s := range scored {
		out[i] = s.tool
	}
	return out
}

func overlapScore(t ToolSchema, queryWords map[string]bool) int {
	score := 0
	for _, w := range wordsOf(t.Name + " " + t.Description) {
		if queryWords[w] {
			score++
		}
	}
	return score
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordsOf(s) {
		set[w] = true
	}
	return set
}

func wordsOf(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}
