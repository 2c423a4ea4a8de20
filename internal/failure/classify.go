// Package failure maps observed task errors to categories and retry
// decisions. The category set is a closed tagged union and the decision
// table is explicit, so the policy stays exhaustive and testable.
package failure

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/quayside/waverunner/internal/collab"
	"github.com/quayside/waverunner/internal/locks"
)

// Category is the closed error taxonomy.
type Category string

const (
	CategorySyntax            Category = "SYNTAX_ERROR"
	CategoryMissingDependency Category = "MISSING_DEPENDENCY"
	CategoryConflict          Category = "CONFLICT"
	CategoryValidationFailed  Category = "VALIDATION_FAILED"
	CategoryTimeout           Category = "TIMEOUT"
	CategoryUnknown           Category = "UNKNOWN"
)

// ErrValidationFailed marks a validation collaborator rejection.
var ErrValidationFailed = errors.New("validation failed")

// kindCategories maps typed collaborator error kinds to categories.
var kindCategories = map[collab.Kind]Category{
	collab.KindSyntax:            CategorySyntax,
	collab.KindMissingDependency: CategoryMissingDependency,
	collab.KindConflict:          CategoryConflict,
	collab.KindValidation:        CategoryValidationFailed,
	collab.KindTimeout:           CategoryTimeout,
}

// messageHints maps substrings of untyped error messages to categories,
// ordered by decreasing specificity. First match wins.
var messageHints = []struct {
	substr   string
	category Category
}{
	{"syntax error", CategorySyntax},
	{"parse error", CategorySyntax},
	{"cannot find module", CategoryMissingDependency},
	{"no such module", CategoryMissingDependency},
	{"missing dependency", CategoryMissingDependency},
	{"package not found", CategoryMissingDependency},
	{"merge conflict", CategoryConflict},
	{"concurrent edit", CategoryConflict},
	{"validation failed", CategoryValidationFailed},
	{"deadline exceeded", CategoryTimeout},
	{"timed out", CategoryTimeout},
	{"timeout", CategoryTimeout},
}

// Classify maps an error to its category. Typed collaborator errors take
// precedence; lock denials classify as CONFLICT, context expiry as
// TIMEOUT; anything else falls back to message heuristics and finally
// UNKNOWN.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var cerr *collab.Error
	if errors.As(err, &cerr) {
		if cat, ok := kindCategories[cerr.Kind]; ok {
			return cat
		}
		return CategoryUnknown
	}

	if errors.Is(err, locks.ErrHeld) {
		return CategoryConflict
	}
	if errors.Is(err, ErrValidationFailed) {
		return CategoryValidationFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range messageHints {
		if strings.Contains(msg, hint.substr) {
			return hint.category
		}
	}
	return CategoryUnknown
}

var (
	hexRun     = regexp.MustCompile(`\b[0-9a-f]{8,}\b`)
	digitRun   = regexp.MustCompile(`\d+`)
	pathRun    = regexp.MustCompile(`(/[\w.\-]+)+`)
	spaceRun   = regexp.MustCompile(`\s+`)
	quotedText = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)

// Signature normalizes an error message so that repeats of the same
// failure compare equal across attempts: lowercased, with paths, hex ids,
// digits, and quoted fragments collapsed to placeholders.
func Signature(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	msg = quotedText.ReplaceAllString(msg, "<q>")
	msg = pathRun.ReplaceAllString(msg, "<path>")
	msg = hexRun.ReplaceAllString(msg, "<hex>")
	msg = digitRun.ReplaceAllString(msg, "<n>")
	msg = spaceRun.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}
