package syncer

import (
	"errors"
	"fmt"

	"github.com/gitsync/gitsync/internal/gitvcs"
)

// Code discriminates sync failures so callers (HTTP handlers, CLI, a future
// background daemon) can react without matching message strings.
type Code string

const (
	CodeUninitialized Code = "uninitialized"
	CodeNothingToPush Code = "nothing_to_push"
	CodePushRejected  Code = "push_rejected"
	CodeMergeConflict Code = "merge_conflict"
	CodeNetwork       Code = "network"
	CodePrecondition  Code = "precondition"
	CodeBusy          Code = "busy"
	CodeInternal      Code = "internal"
)

// SyncError is the reportable error object every orchestrator operation
// surfaces. No engine error escapes the orchestrator boundary raw.
type SyncError struct {
	Op           string `json:"op"`
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	CanForcePush bool   `json:"can_force_push,omitempty"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// classify converts an engine or store error into its reportable form.
func classify(op string, err error) *SyncError {
	var pushErr *gitvcs.PushRejectedError
	var mergeErr *gitvcs.MergeConflictError
	var netErr *gitvcs.NetworkError
	var preErr *gitvcs.PreconditionError

	switch {
	case errors.Is(err, gitvcs.ErrUninitialized):
		return &SyncError{Op: op, Code: CodeUninitialized, Message: err.Error()}
	case errors.As(err, &pushErr):
		return &SyncError{Op: op, Code: CodePushRejected, Message: pushErr.Error(), CanForcePush: true}
	case errors.As(err, &mergeErr):
		return &SyncError{Op: op, Code: CodeMergeConflict, Message: mergeErr.Error()}
	case errors.As(err, &netErr):
		return &SyncError{Op: op, Code: CodeNetwork, Message: netErr.Error()}
	case errors.As(err, &preErr):
		return &SyncError{Op: op, Code: CodePrecondition, Message: preErr.Error()}
	default:
		return &SyncError{Op: op, Code: CodeInternal, Message: err.Error()}
	}
}
