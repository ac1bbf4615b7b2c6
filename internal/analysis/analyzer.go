// Package analysis turns a batch of session messages into conflict
// features: a profanity flag, an emotional-intensity score, fallacy tags,
// and an evidence-vs-emotion ratio. Everything here is pure, synchronous,
// and deterministic; the lexicons and thresholds all live in Config.
package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
)

// IntensityLevel is the qualitative bucket for an intensity score.
type IntensityLevel string

const (
	LevelCalm      IntensityLevel = "calm"
	LevelMild      IntensityLevel = "mild"
	LevelTense     IntensityLevel = "tense"
	LevelExplosive IntensityLevel = "explosive"
)

// ParticipantStats are the per-participant counters of a snapshot.
type ParticipantStats struct {
	MessageCount   int     `json:"message_count"`
	MeanLength     float64 `json:"mean_length"`
	ProfanityCount int     `json:"profanity_count"`
}

// Snapshot is derived on demand from the message log; it is never stored.
type Snapshot struct {
	Intensity        int                          `json:"intensity"`
	Level            IntensityLevel               `json:"level"`
	Temperature      int                          `json:"temperature"`
	DominantEmotion  string                       `json:"dominant_emotion"`
	Fallacies        []string                     `json:"fallacies"`
	EvidenceStrength float64                      `json:"evidence_strength"`
	Participants     map[string]*ParticipantStats `json:"participants"`
}

// Analyzer applies a Config's lexicons to message batches.
type Analyzer struct {
	config *Config
}

// New creates an analyzer; a nil config gets the defaults.
func New(cfg *Config) *Analyzer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Analyzer{config: cfg}
}

// ContainsProfanity runs the lexical profanity check: lowercase the text,
// strip whitespace and punctuation, then substring-match the term list.
func (a *Analyzer) ContainsProfanity(text string) bool {
	return a.ProfanityHits(text) > 0
}

// ProfanityHits counts profane term occurrences in the text.
func (a *Analyzer) ProfanityHits(text string) int {
	stripped := stripForMatching(text)
	hits := 0
	for _, term := range a.config.ProfanityTerms {
		hits += strings.Count(stripped, stripForMatching(term))
	}
	return hits
}

// Severity maps profanity hits to the 0..SeverityCap language-severity
// scale used in judgment requests.
func (a *Analyzer) Severity(hits int) int {
	severity := hits * a.config.ProfanityWeight
	if severity > a.config.SeverityCap {
		return a.config.SeverityCap
	}
	return severity
}

// Analyze computes the full snapshot for a batch of messages. Moderation
// messages authored by the judge persona are excluded from participant
// statistics and scoring.
func (a *Analyzer) Analyze(messages []trial.Message) *Snapshot {
	snap := &Snapshot{
		Fallacies:    []string{},
		Participants: make(map[string]*ParticipantStats),
	}

	intensity := 0
	evidenceCount := 0
	humanCount := 0
	lengths := make(map[string]int)
	emotionScores := make([]int, len(a.config.EmotionLexicons))
	fallacySeen := make(map[string]bool)

	for _, m := range messages {
		if m.AuthorID == trial.JudgeID {
			continue
		}
		humanCount++

		stats := snap.Participants[m.AuthorID]
		if stats == nil {
			stats = &ParticipantStats{}
			snap.Participants[m.AuthorID] = stats
		}
		stats.MessageCount++
		lengths[m.AuthorID] += utf8.RuneCountInString(m.Text)
		stats.ProfanityCount += a.ProfanityHits(m.Text)

		lower := strings.ToLower(m.Text)

		if strings.ContainsAny(m.Text, "!?") {
			intensity += a.config.PunctuationWeight
		}
		for _, marker := range a.config.MildMarkers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				intensity += a.config.MildWeight
			}
		}
		for _, marker := range a.config.StrongMarkers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				intensity += a.config.StrongWeight
			}
		}

		for i, lex := range a.config.EmotionLexicons {
			for _, term := range lex.Terms {
				emotionScores[i] += strings.Count(lower, strings.ToLower(term))
			}
		}

		for _, pattern := range a.config.FallacyPatterns {
			if fallacySeen[pattern.Tag] {
				continue
			}
			for _, phrase := range pattern.Phrases {
				if strings.Contains(lower, strings.ToLower(phrase)) {
					fallacySeen[pattern.Tag] = true
					break
				}
			}
		}

		if a.isEvidence(m, lower) {
			evidenceCount++
		}
	}

	for id, stats := range snap.Participants {
		if stats.MessageCount > 0 {
			stats.MeanLength = float64(lengths[id]) / float64(stats.MessageCount)
		}
	}

	// Stable tag order follows config order, not map iteration.
	for _, pattern := range a.config.FallacyPatterns {
		if fallacySeen[pattern.Tag] {
			snap.Fallacies = append(snap.Fallacies, pattern.Tag)
		}
	}

	snap.Intensity = intensity
	snap.Level = a.level(intensity)
	snap.Temperature = intensity * a.config.TemperatureFactor
	snap.DominantEmotion = dominantEmotion(a.config.EmotionLexicons, emotionScores)

	if humanCount > 0 {
		snap.EvidenceStrength = float64(evidenceCount) / float64(humanCount) * 100
	}

	return snap
}

func (a *Analyzer) isEvidence(m trial.Message, lower string) bool {
	if m.Type == trial.MessageEvidence {
		return true
	}
	for _, phrase := range a.config.EvidencePhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (a *Analyzer) level(intensity int) IntensityLevel {
	switch {
	case intensity <= a.config.CalmMax:
		return LevelCalm
	case intensity <= a.config.MildMax:
		return LevelMild
	case intensity <= a.config.TenseMax:
		return LevelTense
	}
	return LevelExplosive
}

// dominantEmotion is the argmax over the lexicon scores; ties go to the
// earlier lexicon. A zero-score batch reads as neutral.
func dominantEmotion(lexicons []EmotionLexicon, scores []int) string {
	best := -1
	name := "neutral"
	for i, lex := range lexicons {
		if scores[i] > best && scores[i] > 0 {
			best = scores[i]
			name = lex.Name
		}
	}
	return name
}

// stripForMatching lowercases and removes whitespace, punctuation, and
// symbols so spaced-out profanity still matches.
func stripForMatching(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
