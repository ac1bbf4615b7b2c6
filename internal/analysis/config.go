package analysis

// EmotionLexicon is one named emotion counter. Slice position in
// Config.EmotionLexicons is the tie-break priority: when two emotions
// score equally, the earlier lexicon wins. This replaces the incidental
// enumeration-order tie-break observed in the original behavior with a
// documented, stable rule.
type EmotionLexicon struct {
	Name  string   `koanf:"name"`
	Terms []string `koanf:"terms"`
}

// FallacyPattern maps a fallacy tag to its trigger phrases. Phrases are
// matched case-insensitively against the raw text, whitespace intact.
type FallacyPattern struct {
	Tag     string   `koanf:"tag"`
	Phrases []string `koanf:"phrases"`
}

// Config holds every lexicon and threshold the analyzer uses. Nothing is
// a hidden constant: tuning or localizing the analysis never touches
// control flow.
type Config struct {
	// ProfanityTerms are matched against whitespace/punctuation-stripped
	// lowercased text.
	ProfanityTerms []string `koanf:"profanity_terms"`

	// ProfanityWeight scores each profanity hit toward language
	// severity; SeverityCap bounds the per-participant total.
	ProfanityWeight int `koanf:"profanity_weight"`
	SeverityCap     int `koanf:"severity_cap"`

	// PunctuationWeight is added once per message containing ! or ?.
	// Mild and strong markers add their weights per marker matched.
	PunctuationWeight int      `koanf:"punctuation_weight"`
	MildMarkers       []string `koanf:"mild_markers"`
	MildWeight        int      `koanf:"mild_weight"`
	StrongMarkers     []string `koanf:"strong_markers"`
	StrongWeight      int      `koanf:"strong_weight"`

	// Intensity level thresholds: <=Calm calm, <=Mild mild,
	// <=Tense tense, above explosive.
	CalmMax  int `koanf:"calm_max"`
	MildMax  int `koanf:"mild_max"`
	TenseMax int `koanf:"tense_max"`

	// TemperatureFactor converts intensity to the courtroom temperature.
	TemperatureFactor int `koanf:"temperature_factor"`

	EmotionLexicons []EmotionLexicon `koanf:"emotion_lexicons"`
	FallacyPatterns []FallacyPattern `koanf:"fallacy_patterns"`

	// EvidencePhrases mark a message as cited fact; messages typed
	// evidence count regardless.
	EvidencePhrases []string `koanf:"evidence_phrases"`
}

// DefaultConfig returns the Korean-first authoring lexicons with English
// fallbacks.
func DefaultConfig() *Config {
	return &Config{
		ProfanityTerms: []string{
			"씨발", "시발", "ㅅㅂ", "병신", "개새끼", "미친놈", "미친년",
			"존나", "닥쳐", "꺼져", "fuck", "shit", "asshole",
		},
		ProfanityWeight:   10,
		SeverityCap:       30,
		PunctuationWeight: 1,
		MildMarkers: []string{
			"짜증", "답답", "어이없", "싫어", "그만해", "annoying", "whatever",
		},
		MildWeight: 2,
		StrongMarkers: []string{
			"미치겠", "폭발", "죽겠", "최악", "못 살아", "furious", "can't stand",
		},
		StrongWeight:      3,
		CalmMax:           2,
		MildMax:           5,
		TenseMax:          10,
		TemperatureFactor: 10,
		EmotionLexicons: []EmotionLexicon{
			{Name: "anger", Terms: []string{"화나", "화가", "열받", "angry"}},
			{Name: "sadness", Terms: []string{"슬퍼", "슬프", "서운", "눈물", "sad"}},
			{Name: "irritation", Terms: []string{"짜증", "거슬", "annoy"}},
			{Name: "fury", Terms: []string{"빡치", "분노", "폭발", "furious"}},
			{Name: "frustration", Terms: []string{"답답", "한숨", "frustrat"}},
		},
		FallacyPatterns: []FallacyPattern{
			{Tag: "overgeneralization", Phrases: []string{
				"항상", "맨날", "절대", "언제나", "always", "never",
			}},
			{Tag: "ad_hominem", Phrases: []string{
				"너는 항상", "넌 항상", "너란 사람", "나는 한번도", "you always", "i never",
			}},
			{Tag: "deflection", Phrases: []string{
				"너도", "너나 잘", "그러는 너는", "well you",
			}},
		},
		EvidencePhrases: []string{
			"봤어", "봤잖아", "들었어", "증거", "사실이", "실제로",
			"i saw", "it happened", "the proof",
		},
	}
}
