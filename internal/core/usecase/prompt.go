package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

const contextDelimiter = "\n\n---\n\n"

const systemPromptTemplate = `You are a study assistant. Answer questions using ONLY the document excerpts provided below. Follow these rules strictly:

1. Answer accurately using information from the provided sources.
2. ALWAYS cite your sources after each claim using this format: **[Source: "filename.pdf", Page X]**
3. When information comes from several documents, label clearly which file each part comes from.
4. Use clear formatting: headers, bullet points and bold text where it helps readability.
5. If the provided sources do not contain enough information, say so clearly.
6. Never make up information that is not in the sources.

--- DOCUMENT EXCERPTS ---
%s
-------------------------`

// packContext labels chunks in retrieval order and reports how many were packed.
// The first block is always kept; later blocks are dropped once maxChars runes
// would be exceeded.
func packContext(chunks []domain.RetrievedChunk, maxChars int) (string, int) {
	var b strings.Builder
	used, packed := 0, 0
	delimiterLen := utf8.RuneCountInString(contextDelimiter)
	for i, chunk := range chunks {
		block := fmt.Sprintf("[%s: \"%s\", Page %d]\n%s", sourceLabel(i), chunk.Filename, chunk.PageNumber, chunk.Content)
		blockLen := utf8.RuneCountInString(block)
		if i > 0 {
			if maxChars > 0 && used+delimiterLen+blockLen > maxChars {
				break
			}
			b.WriteString(contextDelimiter)
			used += delimiterLen
		}
		b.WriteString(block)
		used += blockLen
		packed++
	}
	return b.String(), packed
}

func buildMessages(excerpts string, history []domain.ChatMessage, query string, historyTurns int) []domain.ChatMessage {
	messages := []domain.ChatMessage{{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf(systemPromptTemplate, excerpts),
	}}
	messages = append(messages, recentHistory(history, historyTurns)...)
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: query})
}

// recentHistory keeps the last turns of user/assistant history in order.
func recentHistory(history []domain.ChatMessage, turns int) []domain.ChatMessage {
	valid := make([]domain.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		valid = append(valid, msg)
	}
	if turns >= 0 && len(valid) > turns {
		valid = valid[len(valid)-turns:]
	}
	return valid
}
