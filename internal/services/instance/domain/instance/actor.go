package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/casework/internal/platform/id"
	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/lifecycle"
	"github.com/louisbranch/casework/internal/services/instance/domain/replay"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
	"github.com/louisbranch/casework/internal/services/instance/storage"
)

// job runs on the actor goroutine. A returned error ends the generation.
type job func(ctx context.Context) error

// Actor serializes all work for one instance.
type Actor struct {
	host         *Host
	behavior     engine.Behavior
	instanceType string
	id           string
	mailbox      chan job
	done         chan struct{}
	logger       *slog.Logger

	// Owned by the run goroutine.
	inst          *engine.Instance
	reception     *lifecycle.Reception
	generation    string
	restarts      int
	sinceSnapshot int
}

func newActor(h *Host, behavior engine.Behavior, instanceID string) *Actor {
	instanceType := behavior.InstanceType()
	return &Actor{
		host:         h,
		behavior:     behavior,
		instanceType: instanceType,
		id:           instanceID,
		mailbox:      make(chan job, h.cfg.MailboxSize),
		done:         make(chan struct{}),
		logger:       h.logger.With("instance_type", instanceType, "instance_id", instanceID),
	}
}

func (a *Actor) enqueue(ctx context.Context, j job) error {
	select {
	case a.mailbox <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrHostStopped
	}
}

// run starts generations until ctx ends.
func (a *Actor) run(ctx context.Context) {
	defer close(a.done)
	for {
		err := a.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		a.restarts++
		a.logger.Warn("instance restarting",
			"generation", a.generation,
			"restarts", a.restarts,
			"error", err,
		)
		select {
		case <-time.After(a.host.cfg.RestartDelay):
		case <-ctx.Done():
			return
		}
	}
}

// serve runs one generation: fresh state, recovery, then the mailbox.
func (a *Actor) serve(ctx context.Context) error {
	a.generation = id.MustNewID()
	a.inst = engine.NewInstance(a.id, a.behavior)
	a.reception = lifecycle.NewReception(a.instanceType, a.behavior.Supports, a.logger)
	a.sinceSnapshot = 0

	if err := a.recover(ctx); err != nil {
		return err
	}
	a.logger.Debug("instance serving", "generation", a.generation, "mode", a.reception.Mode().String(), "last_seq", a.inst.LastSeq)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-a.mailbox:
			if err := j(ctx); err != nil {
				return err
			}
		}
	}
}

// handle admits, processes and commits one command.
func (a *Actor) handle(ctx context.Context, env *envelope) error {
	cmd := env.cmd
	if rejection := a.reception.CanPass(cmd); rejection != nil {
		env.deliver(reply.Fail(cmd.MessageID, a.id, rejection))
		return nil
	}

	// A transaction that started persisting runs to completion.
	ctx = context.WithoutCancel(ctx)
	committer := a.host.committer
	h := engine.NewHandler(a.inst, cmd, a.host.handlerOptions())
	if err := h.Process(); err != nil {
		failure := reply.Fail(cmd.MessageID, a.id, err)
		if abortErr := committer.Abort(ctx, h.Transaction(), failure, env.deliver); abortErr != nil {
			a.logger.Error("transaction aborted after state change",
				"generation", a.generation,
				"message_id", cmd.MessageID,
				"command_type", cmd.Type,
				"cause", err,
				"error", abortErr,
			)
			return abortErr
		}
		return nil
	}

	h.Complete()
	stored, err := committer.Commit(ctx, h.Transaction(), env.deliver)
	if err != nil {
		a.logger.Error("transaction not persisted",
			"generation", a.generation,
			"message_id", cmd.MessageID,
			"command_type", cmd.Type,
			"error", err,
		)
		return err
	}
	a.inst.Advance(stored)
	if cmd.Bootstrap && a.inst.Created {
		a.reception.Unlock()
	}
	a.maybeSnapshot(ctx, len(stored))
	return nil
}

// recover rebuilds state from the latest snapshot and the journal.
// Corruption breaks the instance; read errors end the generation.
func (a *Actor) recover(ctx context.Context) error {
	journal := a.host.journal
	if journal == nil {
		a.reception.Open(false)
		return nil
	}

	ctx, span := a.host.tracer.Start(ctx, "instance.recover", trace.WithAttributes(
		attribute.String("instance.id", a.id),
		attribute.String("instance.type", a.instanceType),
		attribute.String("instance.generation", a.generation),
	))
	defer span.End()

	afterSeq := a.restoreSnapshot(ctx)
	result, err := replay.Replay(ctx, journal, a.id, a.applyRecovered, replay.Options{
		AfterSeq: afterSeq,
		PageSize: a.host.cfg.ReplayPageSize,
	})
	span.SetAttributes(attribute.Int("events.applied", result.Applied))
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrBroken):
	case isCorruption(err):
		a.reception.Break(err.Error())
		span.SetStatus(codes.Error, "instance broken")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
		return fmt.Errorf("recover instance %s: %w", a.id, err)
	}
	a.reception.Open(a.inst.Created)
	return nil
}

func (a *Actor) applyRecovered(evt event.Event) error {
	if err := a.reception.CheckRecovered(evt); err != nil {
		return err
	}
	return engine.Recover(a.inst, evt)
}

func isCorruption(err error) bool {
	var applyErr *replay.ApplyError
	return errors.As(err, &applyErr) ||
		errors.Is(err, replay.ErrSequenceGap) ||
		errors.Is(err, storage.ErrRecordCorrupt)
}

// restoreSnapshot loads the latest usable snapshot and returns the sequence
// replay continues from.
func (a *Actor) restoreSnapshot(ctx context.Context) uint64 {
	store := a.host.snapshots
	codec, ok := a.behavior.(engine.Snapshotter)
	if store == nil || !ok {
		return 0
	}
	snapshot, err := store.LoadSnapshot(ctx, a.id)
	if err != nil {
		if !errors.Is(err, storage.ErrSnapshotNotFound) {
			a.logger.Warn("snapshot not loaded", "error", err)
		}
		return 0
	}
	if snapshot.InstanceType != a.instanceType {
		a.logger.Warn("snapshot owned by another instance type ignored", "snapshot_type", snapshot.InstanceType)
		return 0
	}
	state, err := codec.DecodeState(snapshot.StateJSON)
	if err != nil {
		a.logger.Warn("snapshot not decoded, replaying full journal", "last_seq", snapshot.LastSeq, "error", err)
		return 0
	}
	a.inst.State = state
	a.inst.LastSeq = snapshot.LastSeq
	a.inst.EngineVersion = snapshot.EngineVersion
	a.inst.Created = true
	return snapshot.LastSeq
}

func (a *Actor) maybeSnapshot(ctx context.Context, persisted int) {
	interval := a.host.cfg.SnapshotInterval
	store := a.host.snapshots
	codec, ok := a.behavior.(engine.Snapshotter)
	if interval <= 0 || store == nil || !ok || persisted == 0 {
		return
	}
	a.sinceSnapshot += persisted
	if a.sinceSnapshot < interval || !a.inst.Created {
		return
	}
	data, err := codec.EncodeState(a.inst.State)
	if err != nil {
		a.logger.Warn("snapshot not encoded", "error", err)
		return
	}
	err = store.SaveSnapshot(ctx, storage.Snapshot{
		InstanceID:    a.id,
		InstanceType:  a.instanceType,
		LastSeq:       a.inst.LastSeq,
		EngineVersion: a.inst.EngineVersion,
		StateJSON:     data,
		CreatedAt:     a.host.now().UTC(),
	})
	if err != nil {
		a.logger.Warn("snapshot not saved", "last_seq", a.inst.LastSeq, "error", err)
		return
	}
	a.sinceSnapshot = 0
}
