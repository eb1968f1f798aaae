package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/platform/timeouts"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
	"github.com/louisbranch/casework/internal/services/instance/domain/transaction"
	"github.com/louisbranch/casework/internal/services/instance/storage"
)

var (
	// ErrNoResponse reports that the instance ended the command without a
	// reply. The outcome is unknown to the caller; the instance restarted.
	ErrNoResponse = errors.New("instance ended without a response")
	// ErrHostStopped reports a request made after Stop.
	ErrHostStopped = errors.New("instance host is stopped")
	// ErrBehaviorRequired reports a nil behavior passed to Register.
	ErrBehaviorRequired = errors.New("behavior is required")
)

const (
	defaultMailboxSize  = 64
	defaultRestartDelay = 200 * time.Millisecond
)

// Config tunes the host and its actors.
type Config struct {
	// EngineVersion is stamped into each instance journal when it changes.
	EngineVersion string
	DebugEnabled  bool
	// SnapshotInterval is the number of persisted events between snapshots.
	// Zero disables snapshots.
	SnapshotInterval int
	MailboxSize      int
	RestartDelay     time.Duration
	ReplayPageSize   int
}

// Option configures a Host.
type Option func(*Host)

// WithJournal persists instances to journal. Snapshots are used when it also
// implements storage.SnapshotStore.
func WithJournal(journal storage.Journal) Option {
	return func(h *Host) {
		h.journal = journal
		if snapshots, ok := journal.(storage.SnapshotStore); ok {
			h.snapshots = snapshots
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMonitor sets the sink notified after each durable event.
func WithMonitor(monitor transaction.Monitor) Option {
	return func(h *Host) {
		h.monitor = monitor
	}
}

// WithConsole mirrors debug messages to console.
func WithConsole(console engine.DebugConsole) Option {
	return func(h *Host) {
		h.console = console
	}
}

// WithTracer sets the tracer used for commit and recovery spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Host) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

// Host owns the actors of every registered instance type.
type Host struct {
	cfg       Config
	commands  *command.Registry
	events    *event.Registry
	behaviors map[string]engine.Behavior

	journal   storage.Journal
	snapshots storage.SnapshotStore
	monitor   transaction.Monitor
	console   engine.DebugConsole
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	committer *transaction.Committer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	actors  map[string]*Actor
	stopped bool
}

// NewHost builds a host. Without WithJournal instances run in memory only.
func NewHost(cfg Config, opts ...Option) *Host {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	h := &Host{
		cfg:       cfg,
		commands:  command.NewRegistry(),
		events:    event.NewRegistry(),
		behaviors: make(map[string]engine.Behavior),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/louisbranch/casework/internal/services/instance/domain/instance"),
		now:       time.Now,
		actors:    make(map[string]*Actor),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.committer = &transaction.Committer{
		Monitor:      h.monitor,
		Logger:       h.logger.With("component", "committer"),
		Tracer:       h.tracer,
		DebugTimeout: timeouts.DebugPersist,
		Now:          h.now,
	}
	if h.journal != nil {
		h.committer.Journal = h.journal
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Register adds an instance type. Command and event definitions without an
// instance type are attributed to the behavior.
func (h *Host) Register(behavior engine.Behavior) error {
	if behavior == nil {
		return ErrBehaviorRequired
	}
	instanceType := strings.TrimSpace(behavior.InstanceType())
	if instanceType == "" {
		return command.ErrInstanceTypeRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.behaviors[instanceType]; exists {
		return fmt.Errorf("instance type already registered: %s", instanceType)
	}
	for _, def := range behavior.Commands() {
		if def.InstanceType == "" {
			def.InstanceType = instanceType
		}
		if err := h.commands.Register(def); err != nil {
			return fmt.Errorf("register %s commands: %w", instanceType, err)
		}
	}
	for _, def := range behavior.Events() {
		if def.Owner == event.OwnerEngine {
			def.Owner = instanceType
		}
		if err := h.events.Register(def); err != nil {
			return fmt.Errorf("register %s events: %w", instanceType, err)
		}
	}
	h.behaviors[instanceType] = behavior
	return nil
}

// InstanceTypes lists the registered instance types in order.
func (h *Host) InstanceTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := lo.Keys(h.behaviors)
	slices.Sort(types)
	return types
}

// Send delivers cmd to its instance and waits for the response.
//
// Every admitted or rejected command yields a Response, including failures.
// The error is reserved for cases where no response exists: the caller's
// context ended, the host stopped, or the instance restarted after a
// persistence failure (ErrNoResponse). Giving up on ctx does not cancel the
// command once it reached the instance.
func (h *Host) Send(ctx context.Context, cmd command.Command) (reply.Response, error) {
	normalized, err := h.commands.Normalize(cmd)
	if err != nil {
		return reply.Fail(cmd.MessageID, cmd.InstanceID,
			apperrors.WrapWithMetadata(apperrors.CodeCommandInvalid, "command envelope invalid",
				map[string]string{"Reason": err.Error()}, err)), nil
	}
	actor, err := h.actorFor(normalized.InstanceType, normalized.InstanceID)
	if err != nil {
		var domainErr *apperrors.Error
		if errors.As(err, &domainErr) {
			return reply.Fail(normalized.MessageID, normalized.InstanceID, err), nil
		}
		return reply.Response{}, err
	}

	env := newEnvelope(normalized)
	err = actor.enqueue(ctx, func(ctx context.Context) error {
		defer env.finish()
		return actor.handle(ctx, env)
	})
	if err != nil {
		return reply.Response{}, err
	}
	return env.wait(ctx, actor.done)
}

// Choke moves an instance to Broken. It stops accepting commands until the
// process restarts.
func (h *Host) Choke(ctx context.Context, instanceType, instanceID, reason string) error {
	actor, err := h.actorFor(instanceType, instanceID)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	err = actor.enqueue(ctx, func(context.Context) error {
		actor.reception.Choke(reason)
		close(done)
		return nil
	})
	if err != nil {
		return err
	}
	return waitFor(ctx, done, actor.done)
}

// Inspect returns the status of an instance, activating it if needed.
func (h *Host) Inspect(ctx context.Context, instanceType, instanceID string) (Status, error) {
	actor, err := h.actorFor(instanceType, instanceID)
	if err != nil {
		return Status{}, err
	}
	var status Status
	done := make(chan struct{})
	err = actor.enqueue(ctx, func(context.Context) error {
		status = actor.status()
		close(done)
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	if err := waitFor(ctx, done, actor.done); err != nil {
		return Status{}, err
	}
	return status, nil
}

// ActivateAll starts an actor for every journaled instance of a registered
// type so recovery runs before the first command arrives. It returns the
// number of instances activated.
func (h *Host) ActivateAll(ctx context.Context) (int, error) {
	lister, ok := h.journal.(storage.InstanceLister)
	if !ok {
		return 0, nil
	}
	refs, err := lister.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("list instances: %w", err)
	}
	known := lo.Filter(refs, func(ref storage.InstanceRef, _ int) bool {
		_, ok := h.behavior(ref.InstanceType)
		return ok
	})
	for _, ref := range known {
		if _, err := h.actorFor(ref.InstanceType, ref.InstanceID); err != nil {
			return 0, err
		}
	}
	if skipped := len(refs) - len(known); skipped > 0 {
		h.logger.Warn("instances with unregistered types not activated", "count", skipped)
	}
	return len(known), nil
}

// Active returns the keys of running actors.
func (h *Host) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := lo.Keys(h.actors)
	slices.Sort(keys)
	return keys
}

// Stop cancels every actor and waits for them and for background debug
// writes to finish, or for ctx to end.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.committer.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop instance host: %w", ctx.Err())
	}
}

func (h *Host) behavior(instanceType string) (engine.Behavior, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.behaviors[instanceType]
	return b, ok
}

func (h *Host) actorFor(instanceType, instanceID string) (*Actor, error) {
	instanceType = strings.TrimSpace(instanceType)
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, command.ErrInstanceIDRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrHostStopped
	}
	behavior, ok := h.behaviors[instanceType]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownInstanceType, "instance type is not registered",
			map[string]string{"InstanceType": instanceType})
	}
	key := command.Command{InstanceType: instanceType, InstanceID: instanceID}.Key()
	if actor, ok := h.actors[key]; ok {
		return actor, nil
	}
	actor := newActor(h, behavior, instanceID)
	h.actors[key] = actor
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		actor.run(h.ctx)
	}()
	return actor, nil
}

func (h *Host) handlerOptions() engine.Options {
	return engine.Options{
		EngineVersion: h.cfg.EngineVersion,
		DebugEnabled:  h.cfg.DebugEnabled,
		Console:       h.console,
		Events:        h.events,
		Now:           h.now,
	}
}

func waitFor(ctx context.Context, done, stopped <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrHostStopped
		}
	}
}
