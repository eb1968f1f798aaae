package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/casework/internal/platform/grpc"
	"github.com/louisbranch/casework/internal/services/instance/domain/casefile"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/instance"
	"github.com/louisbranch/casework/internal/services/instance/observability/liveness"
	"github.com/louisbranch/casework/internal/services/instance/storage/memory"
)

func newCaseHost(t *testing.T, store *memory.Store, opts ...instance.Option) *instance.Host {
	t.Helper()
	opts = append([]instance.Option{instance.WithJournal(store)}, opts...)
	host := instance.NewHost(instance.Config{EngineVersion: "1.0.0", RestartDelay: time.Millisecond}, opts...)
	if err := host.Register(casefile.Behavior{}); err != nil {
		t.Fatalf("register casefile: %v", err)
	}
	return host
}

func TestNewWithAddrRequiresHost(t *testing.T) {
	if _, err := NewWithAddr("127.0.0.1:0", Runtime{}); err == nil {
		t.Fatal("expected missing host error")
	}
}

func TestServeReportsHealthAndActivatesInstances(t *testing.T) {
	store := memory.New(nil)

	seed := newCaseHost(t, store)
	payload, _ := json.Marshal(casefile.OpenPayload{Title: "Broken gate"})
	resp, err := seed.Send(context.Background(), command.Command{
		InstanceType: casefile.InstanceType,
		InstanceID:   "case-1",
		Type:         casefile.CommandOpen,
		ActorID:      "tester",
		PayloadJSON:  payload,
	})
	if err != nil || !resp.OK() {
		t.Fatalf("seed open: %+v, %v", resp, err)
	}
	if err := seed.Stop(context.Background()); err != nil {
		t.Fatalf("stop seed host: %v", err)
	}

	healthServer := health.NewServer()
	watchdog := liveness.NewLiveness(healthServer, time.Second, nil)
	host := newCaseHost(t, store, instance.WithMonitor(watchdog))
	srv, err := NewWithAddr("127.0.0.1:0", Runtime{
		Host:          host,
		Store:         store,
		Health:        healthServer,
		Liveness:      watchdog,
		WatchInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := platformgrpc.WaitForHealth(waitCtx, conn, liveness.ServiceName, nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
	status, err := platformgrpc.Probe(context.Background(), conn, "")
	if err != nil || status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("probe = %v, %v", status, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(host.Active()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if active := host.Active(); len(active) != 1 || active[0] != "case/case-1" {
		t.Fatalf("active = %v, want [case/case-1]", active)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
	if _, err := host.Send(context.Background(), command.Command{
		InstanceType: casefile.InstanceType,
		InstanceID:   "case-1",
		Type:         casefile.CommandInspect,
	}); err == nil {
		t.Fatal("expected host to be stopped after serve returned")
	}
}
