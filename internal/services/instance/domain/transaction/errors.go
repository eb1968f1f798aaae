package transaction

import "errors"

var (
	// ErrInconsistentState reports that state events were applied in memory
	// but the transaction was aborted, so memory disagrees with the journal.
	ErrInconsistentState = errors.New("aborted transaction left staged state events applied in memory")
	// ErrPersistFailed reports that the journal rejected a state-changing batch.
	ErrPersistFailed = errors.New("persist transaction events")
	// ErrIncompleteAck reports that the journal returned without acknowledging every event.
	ErrIncompleteAck = errors.New("journal did not acknowledge every event")
	// ErrResponseMissing reports a commit attempted before a response was set.
	ErrResponseMissing = errors.New("transaction has no response")
)

// fatalError marks an error that invalidates the current instance generation.
// The owner must drop in-memory state and replay from the journal before
// serving another message.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal returns true from IsFatal checks.
func (e *fatalError) Fatal() bool { return true }

// Fatal marks err as fatal for the current generation.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or any error in its chain, requires a restart.
func IsFatal(err error) bool {
	var target interface{ Fatal() bool }
	if errors.As(err, &target) {
		return target.Fatal()
	}
	return false
}
