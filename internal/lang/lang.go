// Package lang provides language detection for the supported knowledge base
// languages (Kazakh, Russian, English) and the per-language fixed responses.
package lang

import "strings"

// Language is a supported knowledge base language tag.
type Language string

const (
	Kazakh  Language = "kk"
	Russian Language = "ru"
	English Language = "en"
)

// kazakhRunes are the Cyrillic letters specific to the Kazakh alphabet.
// Their presence is a reliable signal even in short questions.
const kazakhRunes = "әөүұқғңһі"

// Detect classifies the text by script. Kazakh-specific letters win over
// plain Cyrillic; any other Cyrillic means Russian; everything else is
// treated as English.
func Detect(text string) Language {
	t := strings.ToLower(text)
	for _, r := range t {
		if strings.ContainsRune(kazakhRunes, r) {
			return Kazakh
		}
	}
	for _, r := range t {
		if (r >= 'а' && r <= 'я') || r == 'ё' {
			return Russian
		}
	}
	return English
}

// NotFound returns the fixed "no answer in the knowledge base" sentinel for
// the language. The answer generator is instructed to return this text
// verbatim, so it must never change between releases without reindexing
// the generation prompts.
func NotFound(l Language) string {
	switch l {
	case Kazakh:
		return "Базада бұл туралы ақпарат жоқ."
	case Russian:
		return "В базе нет информации."
	default:
		return "Not found in the knowledge base."
	}
}

// Apology returns the generic failure message shown to the user when request
// processing fails for any internal reason.
func Apology(l Language) string {
	switch l {
	case Kazakh:
		return "Қате шықты. Қайталап көріңіз."
	case Russian:
		return "Произошла ошибка. Попробуйте ещё раз."
	default:
		return "Something went wrong. Please try again."
	}
}
