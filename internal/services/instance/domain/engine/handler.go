package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
	"github.com/louisbranch/casework/internal/services/instance/domain/transaction"
)

// ErrDebugViaAddEvent reports an attempt to stage a debug event directly.
var ErrDebugViaAddEvent = errors.New("debug events are recorded with Debug")

// DebugConsole mirrors debug messages for interactive debugging.
type DebugConsole interface {
	Mirror(instanceID, messageID, message string)
}

// Options configures handlers.
type Options struct {
	// EngineVersion is the running engine version. Empty disables the check.
	EngineVersion string
	DebugEnabled  bool
	Console       DebugConsole
	// Events validates staged events when set.
	Events *event.Registry
	Now    func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Handler runs one admitted command against an instance.
type Handler struct {
	inst *Instance
	cmd  command.Command
	tx   *transaction.Transaction
	opts Options
}

// NewHandler opens a transaction for cmd.
func NewHandler(inst *Instance, cmd command.Command, opts Options) *Handler {
	return &Handler{inst: inst, cmd: cmd, tx: transaction.New(cmd), opts: opts}
}

// Process runs validation, the engine version check and the behavior.
// A panic in the behavior is returned as a processing failure.
func (h *Handler) Process() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Wrap(apperrors.CodeProcessingFailed, "behavior panicked",
				fmt.Errorf("%v\n%s", r, debug.Stack()))
		}
	}()

	if err := h.inst.Behavior.Validate(h.inst.State, h.cmd); err != nil {
		return validationError(err)
	}
	if err := h.checkEngineVersion(); err != nil {
		return err
	}
	return h.inst.Behavior.Process(h, h.cmd)
}

// checkEngineVersion stages a version change as the first event of the
// transaction when the instance was last written by another engine version.
func (h *Handler) checkEngineVersion() error {
	current := h.opts.EngineVersion
	if current == "" || h.inst.EngineVersion == current {
		return nil
	}
	previous := h.inst.EngineVersion
	payload, err := json.Marshal(event.EngineVersionPayload{Previous: previous, Current: current})
	if err != nil {
		return fmt.Errorf("encode engine version payload: %w", err)
	}
	evt := command.NewEvent(h.cmd, event.TypeEngineVersionChanged, payload, h.opts.now())
	if err := h.inst.Apply(evt); err != nil {
		return err
	}
	h.tx.Prepend(evt)
	h.Debug(func() string {
		return fmt.Sprintf("engine version %q -> %q", previous, current)
	})
	return nil
}

// Complete returns the response of the command, synthesizing an empty
// success when the behavior did not respond.
func (h *Handler) Complete() reply.Response {
	if resp, ok := h.tx.Response(); ok {
		return resp
	}
	resp := reply.Success(h.cmd.MessageID, h.inst.ID, nil, h.inst.LastSeq)
	h.tx.SetResponse(resp)
	return resp
}

// AddEvent applies an event to the in-memory state and stages it.
func (h *Handler) AddEvent(evtType event.Type, payload any) error {
	if evtType == event.TypeDebugRecorded {
		return ErrDebugViaAddEvent
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", evtType, err)
	}
	evt := command.NewEvent(h.cmd, evtType, data, h.opts.now())
	if h.opts.Events != nil {
		evt, err = h.opts.Events.ValidateForAppend(evt)
		if err != nil {
			return err
		}
	}
	if err := h.inst.Apply(evt); err != nil {
		return err
	}
	h.tx.Append(evt)
	return nil
}

// Respond sets the success payload returned to the caller.
func (h *Handler) Respond(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	h.tx.SetResponse(reply.Success(h.cmd.MessageID, h.inst.ID, data, h.inst.LastSeq))
	return nil
}

// Debug records a diagnostic message. build is only called when debugging is
// enabled.
func (h *Handler) Debug(build func() string) {
	if !h.opts.DebugEnabled || build == nil {
		return
	}
	message := build()
	h.tx.Debug().Add(h.opts.now(), message)
	if h.opts.Console != nil {
		h.opts.Console.Mirror(h.inst.ID, h.cmd.MessageID, message)
	}
}

// DebugEnabled reports whether Debug records anything.
func (h *Handler) DebugEnabled() bool {
	return h.opts.DebugEnabled
}

// HasOnlyDebugEvents reports whether the command has not changed durable state so far.
func (h *Handler) HasOnlyDebugEvents() bool {
	return h.tx.HasOnlyDebugEvents()
}

// State returns the current in-memory state, including staged events.
func (h *Handler) State() any {
	return h.inst.State
}

// Command returns the command being handled.
func (h *Handler) Command() command.Command {
	return h.cmd
}

// Transaction returns the handler's transaction.
func (h *Handler) Transaction() *transaction.Transaction {
	return h.tx
}

// Recover applies one historical event. Panics from the behavior are
// returned as errors.
func Recover(inst *Instance, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply recovered %s seq %d panicked: %v", evt.Type, evt.Seq, r)
		}
	}()
	return inst.Apply(evt)
}

// validationError classifies a Validate failure. Domain errors keep their code.
func validationError(err error) error {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.WrapWithMetadata(apperrors.CodeCommandValidationFailed, "command validation failed",
		map[string]string{"Reason": err.Error()}, err)
}
