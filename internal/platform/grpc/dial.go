package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	// DialStageConnect indicates the endpoint could not be reached.
	DialStageConnect DialStage = "connect"
	// DialStageHealth indicates the endpoint answered but the service never
	// reported SERVING.
	DialStageHealth DialStage = "health"
)

// DialError wraps dial and health check failures with a stage indicator.
type DialError struct {
	Stage   DialStage
	Service string
	Err     error
}

func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	if e.Service != "" {
		return fmt.Sprintf("gRPC %s error for %s: %v", e.Stage, e.Service, e.Err)
	}
	return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StageOf returns the stage of the first DialError in err's chain.
func StageOf(err error) (DialStage, bool) {
	var dialErr *DialError
	if errors.As(err, &dialErr) {
		return dialErr.Stage, true
	}
	return "", false
}

// DefaultClientDialOptions returns standard dial options for operator clients.
// Every outbound call propagates trace context when a TracerProvider is
// registered.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithBlock(),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialWithHealth dials addr and waits until service reports SERVING, both
// within dialTimeout. The connection is closed if the service never serves.
func DialWithHealth(ctx context.Context, addr, service string, dialTimeout time.Duration, logf func(string, ...any), opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}

	dialCtx := ctx
	if dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	//nolint:staticcheck // blocking dial separates unreachable from not serving.
	conn, err := gogrpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: DialStageConnect, Service: service, Err: err}
	}
	if err := WaitForHealth(dialCtx, conn, service, logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: DialStageHealth, Service: service, Err: err}
	}
	return conn, nil
}
