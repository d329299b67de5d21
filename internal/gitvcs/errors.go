package gitvcs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUninitialized is returned by every engine operation invoked before a
// repository has been bound and its object store opened. Callers should
// guard with Initialized.
var ErrUninitialized = errors.New("sync engine is not initialized")

// PushRejectedError reports a push refused because the remote head diverged
// and force was not requested. Recoverable by an explicit force retry.
type PushRejectedError struct {
	Branch string
	Err    error
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("push of %q rejected: remote head has diverged (force push required)", e.Branch)
}

func (e *PushRejectedError) Unwrap() error { return e.Err }

// MergeConflictError reports overlapping edits that could not be
// auto-resolved. The branch pointer is left untouched.
type MergeConflictError struct {
	Ours   string
	Theirs string
	Paths  []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge of %q into %q conflicts in: %s", e.Theirs, e.Ours, strings.Join(e.Paths, ", "))
}

// NetworkError wraps transport or auth failures during fetch, push, and
// pull. Local state is unchanged when it is returned.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PreconditionError reports an operation invoked in a state that forbids it,
// such as deleting the currently checked-out branch.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }
