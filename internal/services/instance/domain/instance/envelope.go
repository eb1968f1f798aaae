package instance

import (
	"context"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
)

// envelope carries one command through an actor's mailbox. The reply channel
// receives at most one response; it is closed empty when the command ended
// without one.
type envelope struct {
	cmd     command.Command
	replies chan reply.Response
	sent    bool
}

func newEnvelope(cmd command.Command) *envelope {
	return &envelope{cmd: cmd, replies: make(chan reply.Response, 1)}
}

// deliver is handed to the committer. Only the first call counts.
func (e *envelope) deliver(resp reply.Response) {
	if e.sent {
		return
	}
	e.sent = true
	e.replies <- resp
}

// finish closes the reply channel once the actor is done with the command.
// A delivered response stays readable.
func (e *envelope) finish() {
	e.sent = true
	close(e.replies)
}

func (e *envelope) wait(ctx context.Context, stopped <-chan struct{}) (reply.Response, error) {
	select {
	case resp, ok := <-e.replies:
		if !ok {
			return reply.Response{}, ErrNoResponse
		}
		return resp, nil
	case <-ctx.Done():
		return reply.Response{}, ctx.Err()
	case <-stopped:
		select {
		case resp, ok := <-e.replies:
			if ok {
				return resp, nil
			}
			return reply.Response{}, ErrNoResponse
		default:
			return reply.Response{}, ErrHostStopped
		}
	}
}
