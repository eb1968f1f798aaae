package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the hashed view of an event. Field order is fixed by the
// struct so the encoding is deterministic.
type envelope struct {
	InstanceID   string          `json:"instance_id"`
	InstanceType string          `json:"instance_type"`
	Type         string          `json:"type"`
	Timestamp    string          `json:"timestamp"`
	MessageID    string          `json:"message_id,omitempty"`
	ActorID      string          `json:"actor_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type chainEnvelope struct {
	Seq       uint64 `json:"seq"`
	EventHash string `json:"event_hash"`
	PrevHash  string `json:"prev_hash"`
}

// EventHash computes the content hash of an event, independent of its position.
func EventHash(evt Event) (string, error) {
	payload, err := CanonicalJSON(evt.PayloadJSON)
	if err != nil {
		return "", fmt.Errorf("canonical payload: %w", err)
	}
	data, err := json.Marshal(envelope{
		InstanceID:   evt.InstanceID,
		InstanceType: evt.InstanceType,
		Type:         string(evt.Type),
		Timestamp:    evt.Timestamp.UTC().Format(time.RFC3339Nano),
		MessageID:    evt.MessageID,
		ActorID:      evt.ActorID,
		Payload:      payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode event envelope: %w", err)
	}
	return sha256Hex(data), nil
}

// ChainHash links an event to its predecessor. evt.Seq and evt.Hash must be set.
func ChainHash(evt Event, prevHash string) (string, error) {
	if evt.Hash == "" {
		return "", fmt.Errorf("event hash is required")
	}
	data, err := json.Marshal(chainEnvelope{Seq: evt.Seq, EventHash: evt.Hash, PrevHash: prevHash})
	if err != nil {
		return "", fmt.Errorf("encode chain envelope: %w", err)
	}
	return sha256Hex(data), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
