package knowledge

import (
	"testing"

	"github.com/abenov/faq/internal/lang"
)

func TestAnswerID_ContentAddressed(t *testing.T) {
	a := AnswerID(lang.Russian, "Общежитие стоит 25000 тенге в месяц.")
	b := AnswerID(lang.Russian, "  общежитие   стоит 25000 тенге в месяц.  ")
	if a != b {
		t.Error("identical normalized content must map to the same identity")
	}

	c := AnswerID(lang.Kazakh, "Общежитие стоит 25000 тенге в месяц.")
	if a == c {
		t.Error("same content in a different language must map to a different identity")
	}

	d := AnswerID(lang.Russian, "Общежитие стоит 30000 тенге в месяц.")
	if a == d {
		t.Error("different content must map to a different identity")
	}
}

func TestSearchEntryID_StablePerPair(t *testing.T) {
	a := SearchEntryID("answer-1", "Сколько стоит общежитие?")
	b := SearchEntryID("answer-1", "сколько   стоит общежитие?")
	if a != b {
		t.Error("re-ingesting the same (answer, query) pair must yield the same identity")
	}
	if a == SearchEntryID("answer-2", "Сколько стоит общежитие?") {
		t.Error("same query for a different answer must yield a different identity")
	}
}

func TestAnswerContent_PrefersClean(t *testing.T) {
	a := Answer{Text: "raw  text", CleanText: "clean text"}
	if a.Content() != "clean text" {
		t.Errorf("Content() = %q, want clean text", a.Content())
	}

	a = Answer{Text: "raw text", CleanText: "   "}
	if a.Content() != "raw text" {
		t.Errorf("Content() = %q, want raw text fallback", a.Content())
	}
}
