package instance

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	"github.com/louisbranch/casework/internal/services/instance/domain/lifecycle"
)

// Status is a point-in-time view of an instance.
type Status struct {
	InstanceType  string
	InstanceID    string
	Mode          string
	BrokenReason  string
	BrokenAt      time.Time
	Generation    string
	Restarts      int
	LastSeq       uint64
	EngineVersion string
	Created       bool
	StateJSON     []byte
}

func (a *Actor) status() Status {
	status := Status{
		InstanceType:  a.instanceType,
		InstanceID:    a.id,
		Mode:          a.reception.Mode().String(),
		Generation:    a.generation,
		Restarts:      a.restarts,
		LastSeq:       a.inst.LastSeq,
		EngineVersion: a.inst.EngineVersion,
		Created:       a.inst.Created,
	}
	if broken, ok := a.reception.Mode().(lifecycle.Broken); ok {
		status.BrokenReason = broken.Reason
		status.BrokenAt = broken.At
	}
	var err error
	if codec, ok := a.behavior.(engine.Snapshotter); ok {
		status.StateJSON, err = codec.EncodeState(a.inst.State)
	} else {
		status.StateJSON, err = json.Marshal(a.inst.State)
	}
	if err != nil {
		a.logger.Warn("state not encoded for inspection", "error", err)
		status.StateJSON = nil
	}
	return status
}
