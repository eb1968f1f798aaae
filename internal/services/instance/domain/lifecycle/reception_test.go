package lifecycle

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

func supportsCase(cmd command.Command) bool {
	switch cmd.Type {
	case "case.open", "case.note":
		return true
	default:
		return false
	}
}

func newReception() *Reception {
	return NewReception("case", supportsCase, nil)
}

var (
	bootstrapCmd   = command.Command{InstanceType: "case", InstanceID: "c1", Type: "case.open", Bootstrap: true}
	noteCmd        = command.Command{InstanceType: "case", InstanceID: "c1", Type: "case.note"}
	unsupportedCmd = command.Command{InstanceType: "case", InstanceID: "c1", Type: "case.archive"}
)

func TestReceptionAwaitingBootstrap(t *testing.T) {
	req := require.New(t)
	r := newReception()

	req.IsType(AwaitingBootstrap{}, r.Mode())
	req.Nil(r.CanPass(bootstrapCmd))

	rejection := r.CanPass(noteCmd)
	req.NotNil(rejection)
	req.Equal(apperrors.CodeCommandInvalid, rejection.Code)
	req.IsType(AwaitingBootstrap{}, r.Mode(), "rejection must not change mode")
}

func TestReceptionUnlockThenOperational(t *testing.T) {
	req := require.New(t)
	r := newReception()
	r.Unlock()
	req.IsType(Operational{}, r.Mode())

	req.Nil(r.CanPass(noteCmd))

	unsupported := r.CanPass(unsupportedCmd)
	req.NotNil(unsupported)
	duplicate := r.CanPass(bootstrapCmd)
	req.NotNil(duplicate)

	// Duplicate bootstrap and unsupported commands are indistinguishable.
	req.Equal(unsupported.Code, duplicate.Code)
	req.Equal(unsupported.Message, duplicate.Message)
	req.IsType(Operational{}, r.Mode())
}

func TestReceptionRejectionShapeMatchesBeforeBootstrap(t *testing.T) {
	req := require.New(t)
	fresh := newReception()
	created := newReception()
	created.Unlock()

	a := fresh.CanPass(noteCmd)
	b := created.CanPass(bootstrapCmd)
	req.Equal(a.Code, b.Code)
	req.Equal(a.Message, b.Message)
}

func TestReceptionBrokenRejectsEverything(t *testing.T) {
	req := require.New(t)
	r := newReception()
	r.Unlock()
	r.Choke("")

	mode, ok := r.Mode().(Broken)
	req.True(ok)
	req.Equal("choke requested", mode.Reason)
	req.False(mode.At.IsZero())

	for _, cmd := range []command.Command{bootstrapCmd, noteCmd, unsupportedCmd} {
		rejection := r.CanPass(cmd)
		req.NotNil(rejection)
		req.Equal(apperrors.CodeInstanceChoked, rejection.Code)
		req.Contains(rejection.Message, "check the server logs")
	}

	r.Unlock()
	r.Open(true)
	req.True(IsBroken(r.Mode()), "broken is terminal")
}

func TestReceptionBreakKeepsFirstReason(t *testing.T) {
	r := newReception()
	r.Break("first")
	r.Break("second")
	require.Equal(t, "first", r.Mode().(Broken).Reason)
}

func TestReceptionOpen(t *testing.T) {
	req := require.New(t)

	empty := newReception()
	empty.Open(false)
	req.IsType(AwaitingBootstrap{}, empty.Mode())

	replayed := newReception()
	replayed.Open(true)
	req.IsType(Operational{}, replayed.Mode())
}

func TestReceptionCheckRecovered(t *testing.T) {
	req := require.New(t)
	r := newReception()

	req.NoError(r.CheckRecovered(event.Event{Seq: 1, InstanceType: "case", Type: "case.opened"}))
	req.NoError(r.CheckRecovered(event.Event{Seq: 2, InstanceType: "case", Type: event.TypeDebugRecorded}))

	err := r.CheckRecovered(event.Event{Seq: 3, InstanceType: "task", Type: "task.created"})
	req.True(errors.Is(err, ErrOwnerMismatch))
	req.True(IsBroken(r.Mode()))

	err = r.CheckRecovered(event.Event{Seq: 4, InstanceType: "case", Type: "case.noted"})
	req.ErrorIs(err, ErrBroken)
}

func TestReceptionLogsDoNotRepeatInstanceIdentity(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("instance_type", "case", "instance_id", "c1")
	r := NewReception("case", supportsCase, logger)

	req.NotNil(r.CanPass(noteCmd))
	r.Break("journal corrupt")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	req.Len(lines, 2)
	for _, line := range lines {
		req.Equal(1, strings.Count(line, "instance_type="), line)
		req.Equal(1, strings.Count(line, "instance_id="), line)
	}
}
