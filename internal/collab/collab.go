// Package collab defines the contracts for the external collaborators the
// engine delegates to: content generation, validation, and advisory
// knowledge hints. The engine never inspects how content is produced; it
// only classifies the errors these calls return.
package collab

import (
	"context"

	"github.com/quayside/waverunner/internal/impact"
)

// Request carries everything a collaborator needs to know about one task
// attempt.
type Request struct {
	TaskID    string
	DisplayID string
	Context   string // Caller-supplied generation context
	Impacts   []impact.FileImpact
	Attempt   int

	// Heartbeat reports liveness during a long-running call. Collaborators
	// should invoke it periodically; an attempt silent beyond the engine's
	// heartbeat timeout is declared stuck and cancelled. May be nil.
	Heartbeat func()
}

// Content is the file output of one generation call.
type Content struct {
	Files   map[string][]byte // Path -> full new content
	Deletes []string          // Paths the task removes
}

// Hint is an advisory note about a file pattern, supplied by the knowledge
// collaborator. Hints never block scheduling.
type Hint struct {
	Pattern string
	Text    string
}

// Result is the outcome of a validation call.
type Result struct {
	Passed bool
	Output string
}

// Generator produces the content for one task attempt. May take arbitrary
// wall-clock time; its errors are what the failure classifier categorizes.
type Generator interface {
	Generate(ctx context.Context, req Request, hints []Hint) (*Content, error)
}

// Validator checks generated content after it is written, before commit.
type Validator interface {
	Validate(ctx context.Context, req Request, content *Content) (Result, error)
}

// HintSource supplies read-only advisory hints for file patterns.
type HintSource interface {
	QueryHints(ctx context.Context, patterns []string) ([]Hint, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request, hints []Hint) (*Content, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request, hints []Hint) (*Content, error) {
	return f(ctx, req, hints)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, req Request, content *Content) (Result, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, req Request, content *Content) (Result, error) {
	return f(ctx, req, content)
}

// HintSourceFunc adapts a function to the HintSource interface.
type HintSourceFunc func(ctx context.Context, patterns []string) ([]Hint, error)

// QueryHints implements HintSource.
func (f HintSourceFunc) QueryHints(ctx context.Context, patterns []string) ([]Hint, error) {
	return f(ctx, patterns)
}

// NoHints is a HintSource that always returns nothing.
var NoHints HintSource = HintSourceFunc(func(context.Context, []string) ([]Hint, error) {
	return nil, nil
})

// AcceptAll is a Validator that passes everything. Useful for dry runs.
var AcceptAll Validator = ValidatorFunc(func(context.Context, Request, *Content) (Result, error) {
	return Result{Passed: true}, nil
})
