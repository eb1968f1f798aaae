package casefile

import (
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// InstanceType names case instances.
const InstanceType = "case"

const (
	CommandOpen    command.Type = "case.open"
	CommandNote    command.Type = "case.note"
	CommandAssign  command.Type = "case.assign"
	CommandInspect command.Type = "case.inspect"
	CommandClose   command.Type = "case.close"

	EventOpened         event.Type = "case.opened"
	EventNoted          event.Type = "case.noted"
	EventAssigned       event.Type = "case.assigned"
	EventActivityLogged event.Type = "case.activity_logged"
	EventClosed         event.Type = "case.closed"
)

// OpenPayload is the payload of case.open and case.opened.
type OpenPayload struct {
	Title string `json:"title" validate:"required,max=200"`
}

// NotePayload is the payload of case.note and case.noted.
type NotePayload struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// AssignPayload is the payload of case.assign and case.assigned.
type AssignPayload struct {
	Assignee string `json:"assignee" validate:"required,max=128"`
}

// ActivityPayload records who did what to the case.
type ActivityPayload struct {
	Actor  string `json:"actor,omitempty"`
	Action string `json:"action"`
}

// ClosePayload is the payload of case.close and case.closed.
type ClosePayload struct {
	Resolution string `json:"resolution" validate:"required,oneof=resolved duplicate withdrawn"`
}
