// Package engine implements the incremental build-graph core: a keyed task
// scheduler, the unit/reference data model, the unit graph, and the build
// pipeline that drives resolve -> (cache-restore | build) -> discover
// recursively (the make phase).
package engine

import (
	"errors"
	"fmt"
	"sort"
)

// ErrorKind classifies a compilation error for reporting and recovery logic.
type ErrorKind string

const (
	// KindResolution indicates a reference could not be resolved to a unit.
	// Demoted to a warning when every requesting reference is optional.
	KindResolution ErrorKind = "resolution"

	// KindBuild indicates a unit failed to build. Fatal to that unit only,
	// unless bail mode is active.
	KindBuild ErrorKind = "build"

	// KindCycle indicates a build-during-build or codegen dependency cycle.
	// Fatal to the involved subset of units.
	KindCycle ErrorKind = "cycle"

	// KindHashing indicates a content digest failure. The pipeline
	// substitutes a sentinel hash and flags the compilation inconsistent.
	KindHashing ErrorKind = "hashing"

	// KindConflict indicates two producers targeted the same artifact name
	// with different content. Reported; last write wins.
	KindConflict ErrorKind = "conflict"

	// KindInternal indicates a violated engine invariant.
	KindInternal ErrorKind = "internal"
)

// Severity distinguishes fatal errors from accumulated warnings.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Error is a classified compilation error with unit and origin context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Severity is error or warning.
	Severity Severity `json:"severity"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// UnitID is the identity of the unit the error is attached to, if any.
	UnitID string `json:"unit_id,omitempty"`

	// Origin is the identity of the unit whose reference requested the
	// failing work, if applicable.
	Origin string `json:"origin,omitempty"`

	// Resource is the resource descriptor key involved, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	ctx := ""
	if e.UnitID != "" {
		ctx = fmt.Sprintf(" (unit=%s)", e.UnitID)
	} else if e.Resource != "" {
		ctx = fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s%s: %v", e.Kind, e.Message, ctx, e.Err)
	}
	return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, ctx)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is: two engine errors match when
// their kinds match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewResolutionError creates a resolution error.
func NewResolutionError(message string, err error) *Error {
	return &Error{Kind: KindResolution, Severity: SeverityError, Message: message, Err: err}
}

// NewBuildError creates a build error.
func NewBuildError(message string, err error) *Error {
	return &Error{Kind: KindBuild, Severity: SeverityError, Message: message, Err: err}
}

// NewCycleError creates a cycle error.
func NewCycleError(message string, err error) *Error {
	return &Error{Kind: KindCycle, Severity: SeverityError, Message: message, Err: err}
}

// NewHashingError creates a hashing error.
func NewHashingError(message string, err error) *Error {
	return &Error{Kind: KindHashing, Severity: SeverityError, Message: message, Err: err}
}

// NewConflictError creates an artifact conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Kind: KindConflict, Severity: SeverityError, Message: message, Err: err}
}

// NewInternalError creates an internal invariant error.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Severity: SeverityError, Message: message, Err: err}
}

// AsWarning demotes the error to a warning.
func (e *Error) AsWarning() *Error {
	e.Severity = SeverityWarning
	return e
}

// WithUnit attaches the unit identity the error belongs to.
func (e *Error) WithUnit(identity string) *Error {
	e.UnitID = identity
	return e
}

// WithOrigin attaches the identity of the requesting unit.
func (e *Error) WithOrigin(identity string) *Error {
	e.Origin = identity
	return e
}

// WithResource attaches the resource descriptor key involved.
func (e *Error) WithResource(key string) *Error {
	e.Resource = key
	return e
}

// IsResolution reports whether err is classified as a resolution error.
func IsResolution(err error) bool { return hasKind(err, KindResolution) }

// IsBuild reports whether err is classified as a build error.
func IsBuild(err error) bool { return hasKind(err, KindBuild) }

// IsCycle reports whether err is classified as a cycle error.
func IsCycle(err error) bool { return hasKind(err, KindCycle) }

// IsHashing reports whether err is classified as a hashing error.
func IsHashing(err error) bool { return hasKind(err, KindHashing) }

// IsConflict reports whether err is classified as a conflict error.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// SortErrors orders errors deterministically by (unit, resource, message),
// independent of the completion order of the concurrent tasks that produced
// them.
func SortErrors(errs []*Error) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Message < b.Message
	})
}
