package schemas

import (
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the narrative engine can report.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindDuplicateID      ErrorKind = "DUPLICATE_ID"
	KindValidation       ErrorKind = "VALIDATION"
	KindInvalidInput     ErrorKind = "INVALID_INPUT"
	KindActionNotFound   ErrorKind = "ACTION_NOT_FOUND"
	KindGeneration       ErrorKind = "GENERATION"
	KindSnapshotNotFound ErrorKind = "SNAPSHOT_NOT_FOUND"
	KindProjectMismatch  ErrorKind = "PROJECT_MISMATCH"
	KindSelfLoopRejected ErrorKind = "SELF_LOOP_REJECTED"
)

// ValidationKind narrows a KindValidation error.
type ValidationKind string

const (
	DanglingReference       ValidationKind = "DANGLING_REFERENCE"
	DuplicateChild          ValidationKind = "DUPLICATE_CHILD"
	InvalidNavigationTarget ValidationKind = "INVALID_NAVIGATION_TARGET"
)

// EngineError is the typed error returned by every engine operation. It names
// the operation and the entity involved so callers can decide how to react.
type EngineError struct {
	Kind       ErrorKind      `json:"kind"`
	Validation ValidationKind `json:"validation,omitempty"`
	Op         string         `json:"op,omitempty"`
	EntityID   string         `json:"id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Validation != "" {
		b.WriteString("/")
		b.WriteString(string(e.Validation))
	}
	if e.EntityID != "" {
		fmt.Fprintf(&b, " [%s]", e.EntityID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches on kind, and on validation kind when the target sets one, so the
// package sentinels work with errors.Is through any amount of wrapping.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Validation == "" || t.Validation == e.Validation
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound                = &EngineError{Kind: KindNotFound}
	ErrDuplicateID             = &EngineError{Kind: KindDuplicateID}
	ErrValidation              = &EngineError{Kind: KindValidation}
	ErrDanglingReference       = &EngineError{Kind: KindValidation, Validation: DanglingReference}
	ErrDuplicateChild          = &EngineError{Kind: KindValidation, Validation: DuplicateChild}
	ErrInvalidNavigationTarget = &EngineError{Kind: KindValidation, Validation: InvalidNavigationTarget}
	ErrInvalidInput            = &EngineError{Kind: KindInvalidInput}
	ErrActionNotFound          = &EngineError{Kind: KindActionNotFound}
	ErrGeneration              = &EngineError{Kind: KindGeneration}
	ErrSnapshotNotFound        = &EngineError{Kind: KindSnapshotNotFound}
	ErrProjectMismatch         = &EngineError{Kind: KindProjectMismatch}
	ErrSelfLoopRejected        = &EngineError{Kind: KindSelfLoopRejected}
)

// -- Constructors --

func NewNotFoundError(op, id, entity string) *EngineError {
	return &EngineError{Kind: KindNotFound, Op: op, EntityID: id, Message: entity + " not found"}
}

func NewDuplicateIDError(op, id, entity string) *EngineError {
	return &EngineError{Kind: KindDuplicateID, Op: op, EntityID: id, Message: entity + " already exists"}
}

func NewValidationError(op string, kind ValidationKind, id, format string, args ...any) *EngineError {
	return &EngineError{Kind: KindValidation, Validation: kind, Op: op, EntityID: id, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidInputError(op, id, format string, args ...any) *EngineError {
	return &EngineError{Kind: KindInvalidInput, Op: op, EntityID: id, Message: fmt.Sprintf(format, args...)}
}

func NewActionNotFoundError(op, actionID string) *EngineError {
	return &EngineError{Kind: KindActionNotFound, Op: op, EntityID: actionID, Message: "action not found"}
}

// NewGenerationError wraps a content generator failure. The cause is kept
// intact so callers can inspect it.
func NewGenerationError(op string, err error) *EngineError {
	return &EngineError{Kind: KindGeneration, Op: op, Message: "content generation failed", Err: err}
}

func NewSnapshotNotFoundError(op, id string) *EngineError {
	return &EngineError{Kind: KindSnapshotNotFound, Op: op, EntityID: id, Message: "snapshot not found"}
}

func NewProjectMismatchError(op, snapshotID, want, got string) *EngineError {
	return &EngineError{
		Kind: KindProjectMismatch, Op: op, EntityID: snapshotID,
		Message: fmt.Sprintf("snapshot belongs to project %q, not %q", got, want),
	}
}

func NewSelfLoopError(op, nodeID string) *EngineError {
	return &EngineError{Kind: KindSelfLoopRejected, Op: op, EntityID: nodeID, Message: "node cannot be connected to itself"}
}
