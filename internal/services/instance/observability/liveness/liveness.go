// Package liveness turns journal progress into a gRPC health status.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// ServiceName is the health service name reported for the journal.
const ServiceName = "casework.instance.Journal"

// Liveness is notified by every committer in the process. It reports
// NOT_SERVING while appends are pending and none has made progress for
// longer than the stall threshold.
type Liveness struct {
	server    *health.Server
	threshold time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	inFlight     int
	lastProgress time.Time
	persisted    uint64
	lastSeq      map[string]uint64
	serving      bool
}

// NewLiveness reports through server. A nil server keeps the state local.
func NewLiveness(server *health.Server, threshold time.Duration, logger *slog.Logger) *Liveness {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Liveness{
		server:    server,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		lastSeq:   make(map[string]uint64),
		serving:   true,
	}
	l.lastProgress = l.now()
	l.publish(true)
	return l
}

// EventPersisted records progress.
func (l *Liveness) EventPersisted(evt event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persisted++
	l.lastProgress = l.now()
	if evt.Seq > l.lastSeq[evt.InstanceID] {
		l.lastSeq[evt.InstanceID] = evt.Seq
	}
}

// AppendStarted marks an append in flight.
func (l *Liveness) AppendStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight == 0 {
		l.lastProgress = l.now()
	}
	l.inFlight++
}

// AppendFinished marks an append done, successful or not.
func (l *Liveness) AppendFinished() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.lastProgress = l.now()
}

// Stats is a snapshot of journal progress.
type Stats struct {
	InFlight  int
	Persisted uint64
	Instances int
	Serving   bool
}

// Stats returns the current counters.
func (l *Liveness) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{InFlight: l.inFlight, Persisted: l.persisted, Instances: len(l.lastSeq), Serving: l.serving}
}

// Check evaluates the stall rule and publishes the result.
func (l *Liveness) Check() bool {
	l.mu.Lock()
	stalled := l.threshold > 0 && l.inFlight > 0 && l.now().Sub(l.lastProgress) > l.threshold
	l.mu.Unlock()
	l.setServing(!stalled)
	return !stalled
}

// Watch runs Check every interval until ctx ends.
func (l *Liveness) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Check()
		}
	}
}

func (l *Liveness) setServing(serving bool) {
	l.mu.Lock()
	changed := l.serving != serving
	l.serving = serving
	l.mu.Unlock()

	if changed && !serving {
		l.logger.Error("journal appends stalled", "threshold", l.threshold)
	} else if changed {
		l.logger.Info("journal appends progressing")
	}
	l.publish(serving)
}

func (l *Liveness) publish(serving bool) {
	if l.server == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	l.server.SetServingStatus(ServiceName, status)
}
