package chat

import (
	"fmt"
	"strings"

	"github.com/davitran/crypto-rag/session"
	"github.com/davitran/crypto-rag/vectorindex"
)

func groundedPrompt(question, context, history string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that can answer questions about cryptocurrency, markets, and general economics.\n\n")
	sb.WriteString("Use the following pieces of retrieved context to answer the question. The context contains information from various news sources.\n\n")
	sb.WriteString("If the context provides the information needed to answer the question, use it to give a complete and accurate response.\n")
	sb.WriteString("If the context doesn't contain enough information, say so explicitly.\n\n")
	sb.WriteString("When using information from the context, cite your sources by referencing them like this: [Source: Title].\n\n")

	if history != "" {
		sb.WriteString("Chat History:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer the question based on the context:")
	return sb.String()
}

func generalPrompt(question, history string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful crypto and economics assistant that can answer a wide range of questions.\n")
	sb.WriteString("Use your general knowledge to provide a helpful response.\n\n")
	sb.WriteString("Chat History:\n")
	sb.WriteString(history)
	sb.WriteString("\n\nCurrent Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nThink about the context of the conversation and provide a relevant, helpful answer:")
	return sb.String()
}

// buildContext renders retrieved chunks for the grounded prompt, each tagged
// with its source.
func buildContext(matches []vectorindex.Match) string {
	var sb strings.Builder
	for i, match := range matches {
		source := match.Payload.Source
		if source == "" {
			source = "Unknown Source"
		}
		sb.WriteString(fmt.Sprintf("[Source: %s]\n", source))
		sb.WriteString(match.Payload.Content)
		if i < len(matches)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func formatHistory(turns []session.Turn) string {
	var sb strings.Builder
	for _, turn := range turns {
		if turn.User == "" {
			continue
		}
		sb.WriteString("User: ")
		sb.WriteString(turn.User)
		sb.WriteString("\n")
		if turn.Assistant != "" {
			sb.WriteString("Assistant: ")
			sb.WriteString(turn.Assistant)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
