package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Stage identifies the milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageProbeDone Stage = "PROBE_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Event is one progress notification.
type Event struct {
	SessionID string
	TS        time.Time
	Stage     Stage
	// Key is set on PROBE_DONE.
	Key        string
	District   string
	Status     discovery.Status
	HTTPStatus int
	Bytes      int64
	Dur        time.Duration
	// State is the final session state on RUN_DONE / RUN_ERROR.
	State discovery.SessionState
	Note  string
}

// Validate rejects malformed events.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageProbeDone:
		if e.Key == "" {
			return errors.New("probe event requires key")
		}
		if !e.Status.Valid() {
			return fmt.Errorf("probe event has invalid status %q", e.Status)
		}
	case StageRunDone, StageRunError:
		if e.State == "" {
			return errors.New("run end event requires state")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Sink consumes batches. Implementations must honour ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events; Hub implements it.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
