package game

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScoreLedger is the append-only log of point-earning events for one
// session. A participant's Score is only ever written by AddScore, so it
// always equals Total for that participant.
type ScoreLedger struct {
	events []ScoreEvent
}

// AddScore applies delta to the participant's running total and appends the
// matching immutable event, stamped with at.
func (l *ScoreLedger) AddScore(p *Participant, kind ScoreKind, delta, turn int, description string, at time.Time) ScoreEvent {
	ev := ScoreEvent{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		Turn:          turn,
		Kind:          kind,
		Delta:         delta,
		Description:   description,
		CreatedAt:     at,
	}
	l.events = append(l.events, ev)
	p.Score += delta
	return ev
}

func (l *ScoreLedger) Total(participantID string) int {
	total := 0
	for _, ev := range l.events {
		if ev.ParticipantID == participantID {
			total += ev.Delta
		}
	}
	return total
}

func (l *ScoreLedger) BreakdownByKind(participantID string) map[ScoreKind]int {
	out := make(map[ScoreKind]int)
	for _, ev := range l.events {
		if ev.ParticipantID == participantID {
			out[ev.Kind] += ev.Delta
		}
	}
	return out
}

// Events returns the participant's events in insertion order. An empty
// participantID returns every event.
func (l *ScoreLedger) Events(participantID string) []ScoreEvent {
	out := make([]ScoreEvent, 0, len(l.events))
	for _, ev := range l.events {
		if participantID == "" || ev.ParticipantID == participantID {
			out = append(out, ev)
		}
	}
	return out
}

func (l *ScoreLedger) Len() int { return len(l.events) }

func (l ScoreLedger) MarshalJSON() ([]byte, error) {
	if l.events == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.events)
}

func (l *ScoreLedger) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &l.events)
}
