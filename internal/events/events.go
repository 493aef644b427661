// Package events fans game events out to realtime clients and the broker.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Type string

const (
	GameStarted         Type = "GAME_STARTED"
	AITurnCompleted     Type = "AI_TURN_COMPLETED"
	PlayerTurnCompleted Type = "PLAYER_TURN_COMPLETED"
	TurnSkipped         Type = "TURN_SKIPPED"
	GuessResult         Type = "GUESS_RESULT"
	TimerExpired        Type = "TIMER_EXPIRED"
	GameFinished        Type = "GAME_FINISHED"
	GameCancelled       Type = "GAME_CANCELLED"
	Error               Type = "ERROR"
)

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId"`
	Turn      int       `json:"turn,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(t Type, sessionID string, turn int, payload any) Event {
	return Event{Type: t, SessionID: sessionID, Turn: turn, Payload: payload, Timestamp: time.Now().UTC()}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi delivers to every notifier. A failing sink is logged and does not
// stop delivery to the others.
type Multi struct {
	sinks []Notifier
	log   zerolog.Logger
}

func NewMulti(log zerolog.Logger, sinks ...Notifier) *Multi {
	m := &Multi{log: log}
	m.Add(sinks...)
	return m
}

// Add registers more sinks. It must not race with Notify.
func (m *Multi) Add(sinks ...Notifier) {
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			m.log.Warn().Err(err).Str("session", ev.SessionID).Str("event", string(ev.Type)).Msg("event delivery failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
