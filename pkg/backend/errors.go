package backend

import (
	"errors"
	"fmt"
)

// ============================================================================
// Actions
// ============================================================================

// Action names the backend operation an error originated from.
//
// Every error leaving this package is tagged with an Action so that the
// caller can emit a single diagnostic line ("BackendError in Read: ...")
// without inspecting the cause.
type Action int

const (
	ActionInit Action = iota
	ActionFini
	ActionCreate
	ActionDelete
	ActionOpen
	ActionClose
	ActionStatus
	ActionSync
	ActionRead
	ActionWrite
	ActionIter
	ActionCreateIterAll
	ActionCreateIterPrefix
	ActionInternal
)

func (a Action) String() string {
	switch a {
	case ActionInit:
		return "Init"
	case ActionFini:
		return "Fini"
	case ActionCreate:
		return "Create"
	case ActionDelete:
		return "Delete"
	case ActionOpen:
		return "Open"
	case ActionClose:
		return "Close"
	case ActionStatus:
		return "Status"
	case ActionSync:
		return "Sync"
	case ActionRead:
		return "Read"
	case ActionWrite:
		return "Write"
	case ActionIter:
		return "Iter"
	case ActionCreateIterAll:
		return "CreateIterAll"
	case ActionCreateIterPrefix:
		return "CreateIterPrefix"
	case ActionInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ============================================================================
// Standard Backend Errors
// ============================================================================

// These sentinels identify the failure conditions callers may want to react
// to. Implementations wrap them in a *BackendError:
//
//	if _, ok := c.objects[key]; !ok {
//	    return NewError(ActionInternal, ErrNotCached)
//	}
//
// and callers test for them with errors.Is.
var (
	// ErrNotCached indicates the object cache holds no object for the key.
	//
	// Returned by Remove and by every Execute call for an unknown key. For
	// Close this usually means a double close.
	ErrNotCached = errors.New("object store does not contain a matching object")

	// ErrAlreadyCached indicates an insert for a key that is still live.
	//
	// A descriptor can only be reused by the kernel after it was closed, so
	// this points at a handle that was never removed from the cache.
	ErrAlreadyCached = errors.New("object store already contains a matching object")

	// ErrMissingCompletion indicates the ring returned from its wait without
	// a completion carrying the submitted correlation id.
	//
	// This is a violation of the one-outstanding-operation protocol and is
	// never retried.
	ErrMissingCompletion = errors.New("missing expected completion queue entry")

	// ErrNonUTF8Name indicates a directory entry whose name is not valid UTF-8.
	ErrNonUTF8Name = errors.New("unable to convert file name to UTF-8")

	// ErrInvalidName indicates an empty or escaping namespace or object name.
	ErrInvalidName = errors.New("invalid object name")

	// ErrClosed indicates an operation on an object that was already closed.
	ErrClosed = errors.New("object is closed")

	// ErrPanic indicates an engine operation panicked while the cache lock
	// was held. The panic is contained to the failing call.
	ErrPanic = errors.New("operation panicked")
)

// ============================================================================
// BackendError
// ============================================================================

// BackendError is the error type returned by every engine, cache and backend
// operation.
type BackendError struct {
	Action Action
	Msg    string
	Err    error
}

// NewError wraps err and tags it with action. A nil err yields nil.
func NewError(action Action, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Action: action, Msg: err.Error(), Err: err}
}

// Errorf builds a BackendError from a format string. The %w verb is honoured.
func Errorf(action Action, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &BackendError{Action: action, Msg: err.Error(), Err: errors.Unwrap(err)}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("BackendError in %s: %s", e.Action, e.Msg)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WithAction retags err with action. Errors that are not *BackendError are
// wrapped first; nil stays nil.
func WithAction(err error, action Action) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return &BackendError{Action: action, Msg: be.Msg, Err: be.Err}
	}
	return NewError(action, err)
}

// ActionOf reports the action an error is tagged with, or ActionInternal for
// untagged errors.
func ActionOf(err error) Action {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Action
	}
	return ActionInternal
}
