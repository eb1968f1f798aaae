package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/casework/internal/platform/timeouts"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
)

// Journal appends events in order and calls onPersisted once per durable
// event, in order.
type Journal interface {
	Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error)
}

// Monitor is notified after every durable event.
type Monitor interface {
	EventPersisted(evt event.Event)
}

// AppendTracker is implemented by monitors that also watch appends in flight.
type AppendTracker interface {
	AppendStarted()
	AppendFinished()
}

// Deliver hands a response to the waiting caller.
type Deliver func(reply.Response)

// Committer persists transactions and decides when replies are delivered.
// A nil Journal means the instance runs without persistence.
type Committer struct {
	Journal      Journal
	Monitor      Monitor
	Logger       *slog.Logger
	Tracer       trace.Tracer
	DebugTimeout time.Duration
	Now          func() time.Time

	background sync.WaitGroup
}

// Commit finishes a successfully processed transaction.
//
// Without state events the reply goes out first and the debug event, if any,
// is written in the background. With state events the debug event is placed
// first, the batch is appended in order, and the reply is delivered only after
// the journal acknowledged the last event. On a persistence error the reply is
// never delivered and a fatal error is returned.
func (c *Committer) Commit(ctx context.Context, tx *Transaction, deliver Deliver) ([]event.Event, error) {
	resp, ok := tx.Response()
	if !ok {
		return nil, Fatal(ErrResponseMissing)
	}
	debugEvt, hasDebug, err := tx.freezeDebug(c.now())
	if err != nil {
		c.logger().Warn("drop debug event", "instance_id", tx.cmd.InstanceID, "error", err)
		hasDebug = false
	}

	if tx.StateEvents() == 0 {
		deliver(resp)
		if hasDebug {
			c.persistInBackground(ctx, debugEvt)
		}
		return nil, nil
	}

	events := tx.Events()
	if hasDebug {
		events = append([]event.Event{debugEvt}, events...)
	}
	if c.Journal == nil {
		deliver(resp)
		return events, nil
	}

	ctx, span := c.tracer().Start(ctx, "instance.commit", trace.WithAttributes(
		attribute.String("instance.id", tx.cmd.InstanceID),
		attribute.String("instance.type", tx.cmd.InstanceType),
		attribute.String("command.type", string(tx.cmd.Type)),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	stored, acked, last, err := c.append(ctx, tx.cmd.InstanceID, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, Fatal(fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}
	if acked != len(events) {
		span.SetStatus(codes.Error, "incomplete acknowledgment")
		return nil, Fatal(fmt.Errorf("%w: %d of %d", ErrIncompleteAck, acked, len(events)))
	}

	resp.LastSeq = last.Seq
	deliver(resp)
	return stored, nil
}

// Abort delivers failure immediately and writes any debug event in the
// background. If state events were already staged the in-memory state no
// longer matches the journal, and a fatal error is returned.
func (c *Committer) Abort(ctx context.Context, tx *Transaction, failure reply.Response, deliver Deliver) error {
	deliver(failure)

	debugEvt, hasDebug, err := tx.freezeDebug(c.now())
	if err != nil {
		c.logger().Warn("drop debug event", "instance_id", tx.cmd.InstanceID, "error", err)
	} else if hasDebug {
		c.persistInBackground(ctx, debugEvt)
	}

	if staged := tx.StateEvents(); staged > 0 {
		return Fatal(fmt.Errorf("%w: %d events from message %s", ErrInconsistentState, staged, tx.cmd.MessageID))
	}
	return nil
}

// Wait blocks until every background debug write finished.
func (c *Committer) Wait() {
	c.background.Wait()
}

func (c *Committer) append(ctx context.Context, instanceID string, events []event.Event) ([]event.Event, int, event.Event, error) {
	if tracker, ok := c.Monitor.(AppendTracker); ok {
		tracker.AppendStarted()
		defer tracker.AppendFinished()
	}
	acked := 0
	var last event.Event
	stored, err := c.Journal.Append(ctx, instanceID, events, func(evt event.Event) {
		acked++
		last = evt
		if c.Monitor != nil {
			c.Monitor.EventPersisted(evt)
		}
	})
	return stored, acked, last, err
}

// persistInBackground writes a debug event without blocking the caller.
// Failures are logged and never reach a response.
func (c *Committer) persistInBackground(ctx context.Context, evt event.Event) {
	if c.Journal == nil {
		return
	}
	timeout := c.DebugTimeout
	if timeout <= 0 {
		timeout = timeouts.DebugPersist
	}
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				c.logger().Error("debug event write panicked", "instance_id", evt.InstanceID, "panic", r)
			}
		}()
		if _, _, _, err := c.append(bgCtx, evt.InstanceID, []event.Event{evt}); err != nil {
			c.logger().Warn("debug event not persisted",
				"instance_id", evt.InstanceID,
				"message_id", evt.MessageID,
				"error", err,
			)
		}
	}()
}

func (c *Committer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Committer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Committer) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("github.com/louisbranch/casework/internal/services/instance/domain/transaction")
}
