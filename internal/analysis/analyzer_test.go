package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
)

func msg(author, text string) trial.Message {
	return trial.Message{AuthorID: author, Text: text, Type: trial.MessageNormal}
}

func TestContainsProfanity(t *testing.T) {
	a := New(nil)

	assert.True(t, a.ContainsProfanity("아 씨발 진짜"))
	assert.True(t, a.ContainsProfanity("FUCK this"))
	assert.False(t, a.ContainsProfanity("오늘 날씨 좋다"))
	assert.False(t, a.ContainsProfanity(""))
}

func TestContainsProfanity_IgnoresSpacingAndPunctuation(t *testing.T) {
	a := New(nil)

	// Evasion by spacing or interleaved punctuation still matches.
	assert.True(t, a.ContainsProfanity("씨 발"))
	assert.True(t, a.ContainsProfanity("씨.발."))
	assert.True(t, a.ContainsProfanity("f u c k"))
}

func TestProfanityHitsAndSeverity(t *testing.T) {
	a := New(nil)

	assert.Equal(t, 2, a.ProfanityHits("씨발 씨발"))

	assert.Equal(t, 0, a.Severity(0))
	assert.Equal(t, 10, a.Severity(1))
	assert.Equal(t, 20, a.Severity(2))
	assert.Equal(t, 30, a.Severity(3))
	assert.Equal(t, 30, a.Severity(7), "severity is capped")
}

func TestAnalyze_HeatedExchange(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{
		msg("p1", "너는 항상 그래 씨발"),
		msg("p2", "내가 뭘 항상 그랬는데?"),
	})

	// "너는 항상" triggers both overgeneralization and ad hominem; tag
	// order follows the pattern list, not discovery order.
	assert.Equal(t, []string{"overgeneralization", "ad_hominem"}, snap.Fallacies)

	require.Contains(t, snap.Participants, "p1")
	assert.Equal(t, 1, snap.Participants["p1"].ProfanityCount)
	assert.Equal(t, 0, snap.Participants["p2"].ProfanityCount)

	// One message carries ? punctuation; no mild or strong markers.
	assert.Equal(t, 1, snap.Intensity)
	assert.Equal(t, LevelCalm, snap.Level)
	assert.Equal(t, 10, snap.Temperature)
}

func TestAnalyze_ExcludesJudgeMessages(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{
		msg("p1", "그건 아니지"),
		{AuthorID: trial.JudgeID, Text: "⚖️ 바른 말 고운 말! 씨발", Type: trial.MessageModeration},
	})

	assert.NotContains(t, snap.Participants, trial.JudgeID)
	assert.Equal(t, 1, snap.Participants["p1"].MessageCount)
	assert.Equal(t, 0, snap.Participants["p1"].ProfanityCount)
}

func TestAnalyze_IntensityLevels(t *testing.T) {
	a := New(nil)

	tests := []struct {
		name     string
		messages []trial.Message
		level    IntensityLevel
	}{
		{
			name:     "calm plain statement",
			messages: []trial.Message{msg("p1", "그날 일을 정리해 보자")},
			level:    LevelCalm,
		},
		{
			name: "mild markers",
			messages: []trial.Message{
				msg("p1", "진짜 짜증나고 답답해!"), // two mild markers + punctuation
			},
			level: LevelMild,
		},
		{
			name: "tense mix",
			messages: []trial.Message{
				msg("p1", "짜증나! 미치겠다 진짜!"), // mild + strong + punctuation
				msg("p2", "어이없네"),           // mild
			},
			level: LevelTense,
		},
		{
			name: "explosive",
			messages: []trial.Message{
				msg("p1", "미치겠다 폭발할 것 같아! 최악이야!"),
				msg("p2", "나도 죽겠어! 못 살아 진짜!"),
			},
			level: LevelExplosive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := a.Analyze(tt.messages)
			assert.Equal(t, tt.level, snap.Level, "intensity %d", snap.Intensity)
		})
	}
}

func TestAnalyze_DominantEmotion(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{
		msg("p1", "정말 화나고 화가 난다"),
		msg("p2", "나는 조금 슬퍼"),
	})
	assert.Equal(t, "anger", snap.DominantEmotion)
}

func TestAnalyze_DominantEmotionTieGoesToEarlierLexicon(t *testing.T) {
	a := New(nil)

	// anger and sadness both score one; anger is listed first.
	snap := a.Analyze([]trial.Message{msg("p1", "화나 그리고 슬퍼")})
	assert.Equal(t, "anger", snap.DominantEmotion)
}

func TestAnalyze_NeutralWhenNoEmotionTerms(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{msg("p1", "오늘 회의는 세 시였어")})
	assert.Equal(t, "neutral", snap.DominantEmotion)
}

func TestAnalyze_EvidenceStrength(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{
		msg("p1", "내가 그 장면을 봤어"),
		{AuthorID: "p2", Text: "여기 영수증", Type: trial.MessageEvidence},
		msg("p1", "그냥 느낌이 그래"),
		msg("p2", "기분 나빠"),
	})

	// Two of four human messages count as evidence.
	assert.InDelta(t, 50.0, snap.EvidenceStrength, 0.001)
}

func TestAnalyze_EmptyBatch(t *testing.T) {
	a := New(nil)

	snap := a.Analyze(nil)
	assert.Equal(t, 0, snap.Intensity)
	assert.Equal(t, LevelCalm, snap.Level)
	assert.Equal(t, "neutral", snap.DominantEmotion)
	assert.Empty(t, snap.Fallacies)
	assert.Empty(t, snap.Participants)
	assert.Zero(t, snap.EvidenceStrength)
}

func TestAnalyze_MeanLengthIsPerParticipant(t *testing.T) {
	a := New(nil)

	snap := a.Analyze([]trial.Message{
		msg("p1", "abcd"),
		msg("p1", "ab"),
		msg("p2", "한글두자"),
	})

	assert.InDelta(t, 3.0, snap.Participants["p1"].MeanLength, 0.001)
	assert.InDelta(t, 4.0, snap.Participants["p2"].MeanLength, 0.001, "rune count, not bytes")
}
