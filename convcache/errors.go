package convcache

import "errors"

// Errors returned across the convcache API.
var (
	ErrNotSupported     = errors.New("convcache: operation not supported")
	ErrInvalidChunk     = errors.New("convcache: invalid chunk")
	ErrSnapshotCorrupt  = errors.New("convcache: snapshot corrupt")
	ErrSnapshotMismatch = errors.New("convcache: snapshot does not match cache layout")
)

// Pre-allocated panic messages for contract violations on the per-step
// hot path. These are programming errors in the caller, not runtime
// conditions, which is why they panic instead of returning an error:
// the failure mode they prevent is otherwise silent (shifted temporal
// context and unbounded retention), never an exception.
var (
	errNoActiveChunk    = "convcache: State/Update outside StartChunk"
	errStateAfterUpdate = "convcache: state read after same-step update; the step would consume its own tail as history"
	errUpdateBeforeRead = "convcache: state overwritten before being consumed this step"
	errDoubleUpdate     = "convcache: state updated twice in one step"
	errStageRange       = "convcache: stage out of range"
	errChannelsChanged  = "convcache: stage channel count changed between steps"
	errBadTailShape     = "convcache: tail must be [channels, window]"
)
