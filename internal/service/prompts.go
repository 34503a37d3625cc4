package service

import (
	"fmt"
	"strings"

	"github.com/abenov/faq/internal/lang"
)

// maxKnowledgeChars bounds the knowledge section of the generation prompt.
const maxKnowledgeChars = 7000

const verifierSystemPrompt = "You check whether an answer is fully supported by the given reference text. Reply strictly SUPPORTED or UNSUPPORTED."

// answerSystemPrompt returns the generation instructions in the user's
// language. The model must answer only from the supplied knowledge.
func answerSystemPrompt(l lang.Language) string {
	switch l {
	case lang.Kazakh:
		return "Сен университет студенттеріне көмектесетін ассистентсің. Тек берілген мәліметке сүйеніп, қазақ тілінде қысқа әрі нақты жауап бер. Мәліметте жоқ нәрсені ойдан қоспа."
	case lang.Russian:
		return "Ты ассистент для студентов университета. Отвечай кратко и по делу на русском языке, опираясь только на приведённые сведения. Ничего не выдумывай сверх них."
	default:
		return "You are an assistant for university students. Answer briefly and precisely in English, using only the provided knowledge. Do not invent anything beyond it."
	}
}

// buildAnswerPrompt assembles the generation prompt: chosen answer first,
// remaining candidates after, capped at maxKnowledgeChars. History is
// included for reference resolution only, never as a knowledge source.
func buildAnswerPrompt(query, historyText string, blocks []string) string {
	knowledge := joinBlocks(blocks, maxKnowledgeChars)
	var b strings.Builder
	if historyText != "" {
		fmt.Fprintf(&b, "Conversation so far (context only, not a source of facts):\n%s\n\n", historyText)
	}
	fmt.Fprintf(&b, "Knowledge:\n%s\n\nQuestion: %s\n\nAnswer the question using only the knowledge above.", knowledge, query)
	return b.String()
}

func buildVerifierPrompt(answer string, blocks []string) string {
	knowledge := joinBlocks(blocks, maxKnowledgeChars)
	return fmt.Sprintf("Reference:\n%s\n\nAnswer to check:\n%s\n\nIs every claim in the answer supported by the reference? Reply strictly SUPPORTED or UNSUPPORTED.", knowledge, answer)
}

// joinBlocks concatenates knowledge blocks with "---" separators, dropping
// whatever does not fit in max runes.
func joinBlocks(blocks []string, max int) string {
	var b strings.Builder
	total := 0
	for i, block := range blocks {
		sep := 0
		if i > 0 {
			sep = 5 // len("\n---\n")
		}
		runes := []rune(block)
		if total+sep+len(runes) > max {
			remaining := max - total - sep
			if remaining <= 0 {
				break
			}
			if i > 0 {
				b.WriteString("\n---\n")
			}
			b.WriteString(string(runes[:remaining]))
			break
		}
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(block)
		total += sep + len(runes)
	}
	return b.String()
}

// isSupported accepts only verdicts that start with the affirmative token.
func isSupported(verdict string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(verdict)), "SUPPORTED")
}
