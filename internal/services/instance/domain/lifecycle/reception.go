package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// ChokedMessage is the failure text of every command sent to a Broken
// instance. The cause is only in the server logs.
const ChokedMessage = "instance is not accepting commands; check the server logs"

var (
	// ErrBroken reports that the instance is Broken and recovery must stop.
	ErrBroken = errors.New("instance is broken")
	// ErrOwnerMismatch reports a recovered event owned by another instance type.
	ErrOwnerMismatch = errors.New("recovered event owner mismatch")
)

// Reception classifies inbound commands and recovered events against the
// instance's lifecycle mode.
type Reception struct {
	instanceType string
	supports     func(command.Command) bool
	mode         Mode
	logger       *slog.Logger
	now          func() time.Time
}

// NewReception returns a Reception in AwaitingBootstrap. logger is expected
// to carry the instance identity already.
func NewReception(instanceType string, supports func(command.Command) bool, logger *slog.Logger) *Reception {
	if logger == nil {
		logger = slog.Default()
	}
	if supports == nil {
		supports = func(command.Command) bool { return false }
	}
	return &Reception{
		instanceType: instanceType,
		supports:     supports,
		mode:         AwaitingBootstrap{},
		logger:       logger,
		now:          time.Now,
	}
}

// Mode returns the current lifecycle mode.
func (r *Reception) Mode() Mode {
	return r.mode
}

// CanPass decides whether cmd may reach the message handler. A nil result
// admits the command. Rejections are domain errors meant to be turned into a
// failure response; they never change the mode.
//
// Wrong mode, duplicate bootstrap and unsupported types share one code and
// message so the caller cannot learn whether the instance exists.
func (r *Reception) CanPass(cmd command.Command) *apperrors.Error {
	switch r.mode.(type) {
	case Broken:
		return apperrors.New(apperrors.CodeInstanceChoked, ChokedMessage)
	case AwaitingBootstrap:
		if !cmd.Bootstrap || !r.supports(cmd) {
			return r.reject(cmd, "command not admissible before bootstrap")
		}
		return nil
	case Operational:
		if cmd.Bootstrap {
			return r.reject(cmd, "instance already created")
		}
		if !r.supports(cmd) {
			return r.reject(cmd, "command type not supported")
		}
		return nil
	default:
		panic(fmt.Sprintf("lifecycle: unknown mode %T", r.mode))
	}
}

func (r *Reception) reject(cmd command.Command, reason string) *apperrors.Error {
	r.logger.Debug("command rejected",
		"command_type", cmd.Type,
		"message_id", cmd.MessageID,
		"reason", reason,
	)
	return apperrors.New(apperrors.CodeCommandInvalid, "command rejected")
}

// Unlock moves AwaitingBootstrap to Operational after the bootstrap command
// committed. It is a no-op in any other mode.
func (r *Reception) Unlock() {
	switch r.mode.(type) {
	case AwaitingBootstrap:
		r.mode = Operational{}
	case Operational, Broken:
	default:
		panic(fmt.Sprintf("lifecycle: unknown mode %T", r.mode))
	}
}

// Open ends recovery. created reports whether replay found durable state.
func (r *Reception) Open(created bool) {
	switch r.mode.(type) {
	case AwaitingBootstrap:
		if created {
			r.mode = Operational{}
		}
	case Operational, Broken:
	default:
		panic(fmt.Sprintf("lifecycle: unknown mode %T", r.mode))
	}
}

// Break moves the instance to Broken. The first reason is kept.
func (r *Reception) Break(reason string) {
	switch r.mode.(type) {
	case Broken:
		return
	case AwaitingBootstrap, Operational:
		r.logger.Error("instance broken",
			"previous_mode", r.mode.String(),
			"reason", reason,
		)
		r.mode = Broken{Reason: reason, At: r.now().UTC()}
	default:
		panic(fmt.Sprintf("lifecycle: unknown mode %T", r.mode))
	}
}

// Choke is an explicit operator request to stop serving the instance.
func (r *Reception) Choke(reason string) {
	if reason == "" {
		reason = "choke requested"
	}
	r.Break(reason)
}

// CheckRecovered decides whether a recovered event may be applied. It returns
// ErrBroken once the instance is Broken, and breaks the instance when the
// event's declared owner is another instance type.
func (r *Reception) CheckRecovered(evt event.Event) error {
	if IsBroken(r.mode) {
		return ErrBroken
	}
	if evt.InstanceType != r.instanceType {
		r.Break(fmt.Sprintf("event seq %d owned by %q", evt.Seq, evt.InstanceType))
		return fmt.Errorf("%w: seq %d type %s", ErrOwnerMismatch, evt.Seq, evt.Type)
	}
	return nil
}
