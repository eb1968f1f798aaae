package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	platformgrpc "github.com/louisbranch/casework/internal/platform/grpc"
	"github.com/louisbranch/casework/internal/platform/timeouts"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	domaininstance "github.com/louisbranch/casework/internal/services/instance/domain/instance"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
	"github.com/louisbranch/casework/internal/services/instance/observability/liveness"
	"github.com/louisbranch/casework/internal/services/instance/storage"
)

const inspectPageSize = 200

// inspect recovers one instance and prints its status and journal.
func inspect(ctx context.Context, cfg Config, out io.Writer) error {
	return withHost(ctx, cfg, func(host *domaininstance.Host, store storage.Store) error {
		status, err := host.Inspect(ctx, cfg.InstanceType, cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("inspect %s/%s: %w", cfg.InstanceType, cfg.InstanceID, err)
		}
		renderStatus(out, status)

		events, err := listAll(ctx, store, cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		renderEvents(out, events)
		return nil
	})
}

// send delivers one command through a local host and prints the response.
func send(ctx context.Context, cfg Config, out io.Writer) error {
	var payload []byte
	if raw := strings.TrimSpace(cfg.Payload); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		payload = []byte(raw)
	}
	return withHost(ctx, cfg, func(host *domaininstance.Host, _ storage.Store) error {
		resp, err := host.Send(ctx, command.Command{
			InstanceType: cfg.InstanceType,
			InstanceID:   cfg.InstanceID,
			Type:         command.Type(cfg.CommandType),
			ActorID:      cfg.ActorID,
			PayloadJSON:  payload,
		})
		if err != nil {
			return fmt.Errorf("send %s: %w", cfg.CommandType, err)
		}
		return renderResponse(out, cfg, resp)
	})
}

// renderResponse prints one response. A failure is returned as a gRPC status
// carrying the error code and the localized message.
func renderResponse(out io.Writer, cfg Config, resp reply.Response) error {
	table := newTable(out, []string{"Field", "Value"})
	table.Append([]string{"message", resp.MessageID})
	table.Append([]string{"instance", resp.InstanceID})
	if resp.OK() {
		table.Append([]string{"result", "ok"})
		table.Append([]string{"last seq", strconv.FormatUint(resp.LastSeq, 10)})
		if len(resp.Payload) > 0 {
			table.Append([]string{"payload", string(resp.Payload)})
		}
		table.Render()
		return nil
	}

	localized := resp.Failure.Localize(cfg.Locale)
	table.Append([]string{"result", string(resp.Failure.Code)})
	table.Append([]string{"class", failureClass(resp.Failure)})
	table.Append([]string{"grpc code", resp.Failure.Code.GRPCCode().String()})
	table.Append([]string{"message", resp.Failure.Message})
	table.Append([]string{"localized", localized})
	keys := lo.Keys(resp.Failure.Metadata)
	slices.Sort(keys)
	for _, key := range keys {
		table.Append([]string{strings.ToLower(key), resp.Failure.Metadata[key]})
	}
	table.Render()
	return resp.Failure.Error().ToGRPCStatus(cfg.Locale, localized)
}

// failureClass tells apart failures the caller can fix by changing the
// command from failures on the server side.
func failureClass(failure *reply.Failure) string {
	if failure.Unavailable() {
		return "unavailable"
	}
	return "invalid"
}

// verify checks every journal record of one instance.
func verify(ctx context.Context, cfg Config, out io.Writer) error {
	logger := newLogger(cfg.LogLevel)
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	lastSeq, err := storage.VerifyIntegrity(ctx, store, cfg.InstanceID)
	if err != nil {
		fmt.Fprintf(out, "%s: corrupt after seq %d: %v\n", cfg.InstanceID, lastSeq, err)
		return err
	}
	fmt.Fprintf(out, "%s: %d events verified\n", cfg.InstanceID, lastSeq)
	return nil
}

// probe asks a running server for its health.
func probe(ctx context.Context, cfg Config, out io.Writer) error {
	conn, err := platformgrpc.DialWithHealth(ctx, cfg.ProbeAddr(), liveness.ServiceName, timeouts.GRPCDial, nil)
	if err != nil {
		if stage, ok := platformgrpc.StageOf(err); ok && stage == platformgrpc.DialStageHealth {
			fmt.Fprintf(out, "%s NOT_SERVING\n", liveness.ServiceName)
		}
		return err
	}
	defer conn.Close()

	status, err := platformgrpc.Probe(ctx, conn, liveness.ServiceName)
	if err != nil {
		return fmt.Errorf("probe %s: %w", liveness.ServiceName, err)
	}
	fmt.Fprintf(out, "%s %s\n", liveness.ServiceName, status.String())
	return nil
}

func listAll(ctx context.Context, store storage.Journal, instanceID string) ([]event.Event, error) {
	var all []event.Event
	var after uint64
	for {
		page, err := store.ListEvents(ctx, instanceID, after, inspectPageSize)
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		after = page[len(page)-1].Seq
	}
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func renderStatus(out io.Writer, status domaininstance.Status) {
	table := newTable(out, []string{"Field", "Value"})
	table.Append([]string{"instance", status.InstanceType + "/" + status.InstanceID})
	table.Append([]string{"mode", status.Mode})
	if status.BrokenReason != "" {
		table.Append([]string{"broken", status.BrokenReason})
		table.Append([]string{"broken at", formatTime(status.BrokenAt)})
	}
	table.Append([]string{"created", strconv.FormatBool(status.Created)})
	table.Append([]string{"last seq", strconv.FormatUint(status.LastSeq, 10)})
	table.Append([]string{"engine version", status.EngineVersion})
	table.Append([]string{"generation", status.Generation})
	if len(status.StateJSON) > 0 {
		table.Append([]string{"state", string(status.StateJSON)})
	}
	table.Render()
}

func renderEvents(out io.Writer, events []event.Event) {
	table := newTable(out, []string{"Seq", "Type", "Time", "Message", "Actor", "Payload"})
	for _, evt := range events {
		table.Append([]string{
			strconv.FormatUint(evt.Seq, 10),
			string(evt.Type),
			formatTime(evt.Timestamp),
			evt.MessageID,
			evt.ActorID,
			string(evt.PayloadJSON),
		})
	}
	table.Render()
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
