package query

import "regexp"

// TermRule maps a pattern over the normalized lowercase query to the
// canonical tokens used by the search index. One rule may emit several
// tokens (cross-language synonyms for the same term).
type TermRule struct {
	Pattern   *regexp.Regexp
	Canonical []string
}

// Rules is the immutable rule set a Generator is built from. The tables are
// data, not code: tests and deployments substitute their own sets without
// touching the generator.
type Rules struct {
	// Terms are regexp canonicalization rules matched against the
	// normalized lowercase query.
	Terms []TermRule

	// FuzzyLexicon lists canonical terms users frequently mistype.
	FuzzyLexicon []string

	// FuzzyThreshold is the minimum edit-similarity ratio for a token to
	// count as a typo of a lexicon term.
	FuzzyThreshold float64
}

// DefaultRules returns the built-in rule set for the university knowledge
// base. Patterns are matched case-insensitively against normalized text, so
// they are written in lowercase.
func DefaultRules() Rules {
	return Rules{
		// Note: RE2's \b is ASCII-only, so it is unusable next to Cyrillic
		// letters. Cyrillic alternatives match as plain substrings, which
		// also catches inflected forms.
		Terms: []TermRule{
			// Portal / student cabinet
			{regexp.MustCompile(`\boldmy\.sdu\.edu\.kz\b`), []string{"mysdu.edu.kz", "mysdu", "portal"}},
			{regexp.MustCompile(`\bmysdu\b|\bmy\s*sdu\b|мойсду|майсду|мйсду`), []string{"mysdu", "portal"}},
			{regexp.MustCompile(`портал|личн(?:ый|ом)\s*кабинет|кабинет`), []string{"portal", "mysdu"}},

			// Moodle
			{regexp.MustCompile(`\bmoodle\b|мудле?|модл`), []string{"moodle"}},

			// Retake / re-exam
			{regexp.MustCompile(`\bretake\b|пересдач|ретейк|перездач`), []string{"retake"}},

			// Transcript / SPT / GPA
			{regexp.MustCompile(`\btranscript\b|транскрипт|выписк(?:а|у)\s*оценок`), []string{"transcript"}},
			{regexp.MustCompile(`\bspt\b|\bstudent\s*points\b|студент\s*поинтс`), []string{"SPT"}},
			{regexp.MustCompile(`\bgpa\b|гпа`), []string{"GPA"}},

			{regexp.MustCompile(`\bfx\b|фиэкс`), []string{"FX"}},
		},
		FuzzyLexicon:   []string{"moodle", "retake", "transcript", "mysdu", "portal", "syllabus"},
		FuzzyThreshold: 0.86,
	}
}
