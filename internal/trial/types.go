// Package trial defines the shared domain model for courtroom sessions:
// stages, participants, messages, the intervention lock, and the verdict.
// The types here are what session clients read from and write to the
// shared store; they carry no behavior beyond pure derivations.
package trial

import (
	"time"
)

// JudgeID is the participant id of the system moderator persona. Messages
// it authors are interventions, never counted against a human participant.
const JudgeID = "judge"

// MessageType tags a message with its procedural role.
type MessageType string

const (
	MessageNormal     MessageType = "normal"
	MessageEvidence   MessageType = "evidence"
	MessageObjection  MessageType = "objection"
	MessageClosing    MessageType = "closing"
	MessageModeration MessageType = "moderation"
)

// Participant is one member of a session. Host status is never stored:
// it is derived from join order by HostOf so it cannot desync.
type Participant struct {
	// ID is stable per device, generated once by the client and cached.
	ID string `json:"id"`

	// Name is the display name shown in the courtroom.
	Name string `json:"name"`

	// JoinedAt orders participants for host election.
	JoinedAt time.Time `json:"joined_at"`
}

// HostOf elects the host from the current presence list: the
// earliest-joined participant, ties broken by id so every client computes
// the same answer. Returns false when the list is empty.
func HostOf(participants []Participant) (Participant, bool) {
	var host Participant
	found := false
	for _, p := range participants {
		if !found {
			host = p
			found = true
			continue
		}
		if p.JoinedAt.Before(host.JoinedAt) ||
			(p.JoinedAt.Equal(host.JoinedAt) && p.ID < host.ID) {
			host = p
		}
	}
	return host, found
}

// Message is one utterance in the session log. Immutable once appended;
// log order is the store's commit order, SentAt is informational.
type Message struct {
	ID       string      `json:"id"`
	AuthorID string      `json:"author_id"`
	Stage    Stage       `json:"stage"`
	Round    int         `json:"round"`
	Text     string      `json:"text"`
	Type     MessageType `json:"type"`
	SentAt   time.Time   `json:"sent_at"`
}

// TimerState is the host-broadcast countdown for the current stage.
type TimerState struct {
	// Remaining is whole seconds left; coarse, written by the host only.
	Remaining int `json:"remaining"`

	// Running is false in stages that carry no timer.
	Running bool `json:"running"`
}

// ReadyState maps participant id to readiness for the current stage.
// A participant absent from the map is implicitly not ready.
type ReadyState map[string]bool

// SessionState is the CAS-guarded session record. Everything that
// participates in a cross-client invariant (stage, presence, readiness,
// timer authority) lives in this single document so one transaction can
// re-validate all of it against a fresh read.
type SessionState struct {
	Stage        Stage         `json:"stage"`
	Round        int           `json:"round"`
	Participants []Participant `json:"participants"`
	Ready        ReadyState    `json:"ready"`
	Timer        TimerState    `json:"timer"`

	// Appealed records that the one-shot appeal branch was taken.
	Appealed bool `json:"appealed,omitempty"`

	// VerdictStage is the stage a pending judgment request originated
	// in; a response is discarded if the session has moved past it.
	VerdictStage Stage `json:"verdict_stage,omitempty"`
}

// Present reports whether the participant id is in the session.
func (s *SessionState) Present(id string) bool {
	for _, p := range s.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Host returns the currently elected host.
func (s *SessionState) Host() (Participant, bool) {
	return HostOf(s.Participants)
}

// ReadyCount counts participants marked ready that are still present.
func (s *SessionState) ReadyCount() int {
	n := 0
	for id, ready := range s.Ready {
		if ready && s.Present(id) {
			n++
		}
	}
	return n
}

// Consensus reports whether every present participant is ready.
func (s *SessionState) Consensus() bool {
	return len(s.Participants) > 0 && s.ReadyCount() == len(s.Participants)
}

// InterventionLock guards duplicate moderation messages. It expires by
// timestamp, so a missed explicit clear is self-healing.
type InterventionLock struct {
	At             time.Time `json:"at"`
	LastOffenderID string    `json:"last_offender_id"`
}

// Expired reports whether the lock's validity window has passed.
func (l *InterventionLock) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(l.At) >= window
}

// ParticipantVerdict is one participant's share of the judgment.
// Responsibility percentages are judged independently and need not sum
// to 100 across participants.
type ParticipantVerdict struct {
	ParticipantID  string   `json:"participant_id"`
	Responsibility int      `json:"responsibility"`
	Reasons        []string `json:"reasons"`
	Remedy         string   `json:"remedy"`
}

// Verdict is the structured judgment result. Immutable once produced;
// a fresh one may be requested after an appeal.
type Verdict struct {
	Participants   []ParticipantVerdict `json:"participants"`
	Summary        string               `json:"summary"`
	RootCause      string               `json:"root_cause"`
	Recommendation string               `json:"recommendation"`
	Round          int                  `json:"round"`
	CreatedAt      time.Time            `json:"created_at"`
}
