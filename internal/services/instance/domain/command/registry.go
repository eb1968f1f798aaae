package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/casework/internal/platform/id"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

var (
	// ErrInstanceIDRequired indicates a missing instance id.
	ErrInstanceIDRequired = errors.New("instance id is required")
	// ErrInstanceTypeRequired indicates a missing instance type.
	ErrInstanceTypeRequired = errors.New("instance type is required")
	// ErrTypeRequired indicates a missing command type.
	ErrTypeRequired = errors.New("command type is required")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
	// ErrBootstrapConflict indicates a second bootstrap type for one instance type.
	ErrBootstrapConflict = errors.New("instance type already declares a bootstrap command")
)

// Definition registers metadata for a command type.
type Definition struct {
	Type         Type
	InstanceType string
	Bootstrap    bool
}

// definitionKey scopes a command type to its instance type, so two instance
// types may each declare a command with the same name.
type definitionKey struct {
	instanceType string
	cmdType      Type
}

// Registry stores command definitions and normalizes commands.
type Registry struct {
	definitions map[definitionKey]Definition
	now         func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[definitionKey]Definition), now: time.Now}
}

// Register adds a new command type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	def.InstanceType = strings.TrimSpace(def.InstanceType)
	if def.InstanceType == "" {
		return ErrInstanceTypeRequired
	}
	if r.definitions == nil {
		r.definitions = make(map[definitionKey]Definition)
	}
	key := definitionKey{instanceType: def.InstanceType, cmdType: def.Type}
	if _, exists := r.definitions[key]; exists {
		return fmt.Errorf("command type already registered for %s: %s", def.InstanceType, def.Type)
	}
	if def.Bootstrap {
		for _, existing := range r.definitions {
			if existing.InstanceType == def.InstanceType && existing.Bootstrap {
				return fmt.Errorf("%w: %s uses %s", ErrBootstrapConflict, def.InstanceType, existing.Type)
			}
		}
	}
	r.definitions[key] = def
	return nil
}

// Normalize trims the envelope, assigns a message id and timestamp when
// missing, canonicalizes the payload and marks bootstrap commands.
//
// Unregistered command types are not an error here. They are routed to the
// addressed instance, whose admission check rejects them with the same failure
// shape as every other inadmissible command.
func (r *Registry) Normalize(cmd Command) (Command, error) {
	cmd.InstanceType = strings.TrimSpace(cmd.InstanceType)
	if cmd.InstanceType == "" {
		return Command{}, ErrInstanceTypeRequired
	}
	cmd.InstanceID = strings.TrimSpace(cmd.InstanceID)
	if cmd.InstanceID == "" {
		return Command{}, ErrInstanceIDRequired
	}
	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, ErrTypeRequired
	}
	cmd.ActorID = strings.TrimSpace(cmd.ActorID)
	cmd.MessageID = strings.TrimSpace(cmd.MessageID)
	if cmd.MessageID == "" {
		messageID, err := id.NewID()
		if err != nil {
			return Command{}, fmt.Errorf("assign message id: %w", err)
		}
		cmd.MessageID = messageID
	}
	if cmd.Timestamp.IsZero() {
		now := time.Now
		if r != nil && r.now != nil {
			now = r.now
		}
		cmd.Timestamp = now().UTC()
	}

	if len(cmd.PayloadJSON) == 0 {
		cmd.PayloadJSON = []byte("{}")
	}
	if !json.Valid(cmd.PayloadJSON) {
		return Command{}, ErrPayloadInvalid
	}
	canonical, err := event.CanonicalJSON(cmd.PayloadJSON)
	if err != nil {
		return Command{}, fmt.Errorf("canonical payload json: %w", err)
	}
	cmd.PayloadJSON = canonical

	def, ok := r.Definition(cmd.InstanceType, cmd.Type)
	cmd.Bootstrap = ok && def.Bootstrap
	return cmd, nil
}

// Definition returns the command definition of cmdType for instanceType.
func (r *Registry) Definition(instanceType string, cmdType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	instanceType = strings.TrimSpace(instanceType)
	cmdType = Type(strings.TrimSpace(string(cmdType)))
	if instanceType == "" || cmdType == "" {
		return Definition{}, false
	}
	def, ok := r.definitions[definitionKey{instanceType: instanceType, cmdType: cmdType}]
	return def, ok
}

// ListDefinitions returns a stable, sorted snapshot of registered definitions.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, definition := range r.definitions {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].InstanceType != definitions[j].InstanceType {
			return definitions[i].InstanceType < definitions[j].InstanceType
		}
		return string(definitions[i].Type) < string(definitions[j].Type)
	})
	return definitions
}
