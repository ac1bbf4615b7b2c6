package verdict

import (
	"errors"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
)

var (
	// ErrMalformedVerdict indicates the judgment response failed
	// structural validation. Surfaced to the caller, never defaulted.
	ErrMalformedVerdict = errors.New("malformed verdict response")

	// ErrServiceUnavailable indicates the judgment request failed at the
	// transport level. Retrying is the caller's policy decision.
	ErrServiceUnavailable = errors.New("judgment service unavailable")

	// ErrStaleResponse indicates the session moved on while the
	// judgment was in flight; the response was discarded.
	ErrStaleResponse = errors.New("judgment response discarded: session moved on")
)

// TranscriptEntry is one line of the conversation handed to the judge.
type TranscriptEntry struct {
	AuthorID string            `json:"author_id"`
	Name     string            `json:"name"`
	Stage    trial.Stage       `json:"stage"`
	Type     trial.MessageType `json:"type"`
	Text     string            `json:"text"`
}

// ParticipantProfile is the per-participant statistics block of a
// judgment request.
type ParticipantProfile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	MessageCount int     `json:"message_count"`
	MeanLength   float64 `json:"mean_length"`

	// LanguageSeverity is 0..30, profanity hits weighted and capped.
	LanguageSeverity int `json:"language_severity"`
}

// Options are the judgment style knobs participants pick.
type Options struct {
	// Intensity selects how harsh the ruling reads (e.g. "gentle",
	// "normal", "severe").
	Intensity string `json:"intensity"`

	// Persona selects the judge's voice (e.g. "formal", "warm").
	Persona string `json:"persona"`
}

// Request is the structured judgment prompt payload. It is a plain
// object; rendering it into any particular wire format belongs to the
// client, not here.
type Request struct {
	SessionID        string               `json:"session_id"`
	Round            int                  `json:"round"`
	Transcript       []TranscriptEntry    `json:"transcript"`
	Participants     []ParticipantProfile `json:"participants"`
	Fallacies        []string             `json:"fallacies"`
	Issues           []string             `json:"issues"`
	EvidenceStrength float64              `json:"evidence_strength"`
	Intensity        int                  `json:"intensity"`
	Temperature      int                  `json:"temperature"`
	Level            string               `json:"level"`
	DominantEmotion  string               `json:"dominant_emotion"`
	Options          Options              `json:"options"`
}
