package instance

import (
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// catalog prints the command and event types of every served instance type.
func catalog(out io.Writer) error {
	commands := newTable(out, []string{"Instance Type", "Command", "Bootstrap"})
	events := newTable(out, []string{"Instance Type", "Event", "Intent"})
	for _, behavior := range behaviors() {
		instanceType := behavior.InstanceType()

		defs := slices.Clone(behavior.Commands())
		slices.SortFunc(defs, func(a, b command.Definition) int { return strings.Compare(string(a.Type), string(b.Type)) })
		for _, def := range defs {
			commands.Append([]string{instanceType, string(def.Type), strconv.FormatBool(def.Bootstrap)})
		}

		eventDefs := slices.Clone(behavior.Events())
		slices.SortFunc(eventDefs, func(a, b event.Definition) int { return strings.Compare(string(a.Type), string(b.Type)) })
		for _, def := range eventDefs {
			events.Append([]string{instanceType, string(def.Type), string(def.Intent)})
		}
	}
	commands.Render()
	events.Render()
	return nil
}

