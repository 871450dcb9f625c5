// Package relevance scores questions and answers against the document domain
// on a 0.0-1.0 scale. The score gates routing between document-grounded and
// general-knowledge answers.
package relevance

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/davitran/crypto-rag/llm"
)

// neutralScore is returned whenever a completion cannot be parsed or the
// backend fails: it neither gates toward nor away from retrieval.
const neutralScore = 0.5

// fillerPhrases are conversational exchanges that never warrant retrieval,
// scored 0.0 without spending an LLM call.
var fillerPhrases = map[string]struct{}{
	"hi":           {},
	"hello":        {},
	"hey":          {},
	"thanks":       {},
	"thank you":    {},
	"bye":          {},
	"goodbye":      {},
	"ok":           {},
	"okay":         {},
	"good morning": {},
	"good evening": {},
}

type Classifier struct {
	llm    llm.Client
	logger *log.Logger
}

func NewClassifier(client llm.Client, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Classifier{llm: client, logger: logger}
}

// ScoreAnswer rates how directly answer addresses question.
func (c *Classifier) ScoreAnswer(ctx context.Context, question, answer string) float64 {
	completion, err := c.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: answerRubric(question, answer)},
	})
	if err != nil {
		c.logger.Printf("relevance check failed, defaulting to %.1f: %v", neutralScore, err)
		return neutralScore
	}

	score, err := ParseScore(completion.Text)
	if err != nil {
		c.logger.Printf("could not parse relevance score %q, defaulting to %.1f", completion.Text, neutralScore)
		return neutralScore
	}
	return score
}

// ScoreQuestion rates how much a question belongs to the crypto/economics
// document domain. Filler phrases and very short questions score 0.0 without
// an LLM call.
func (c *Classifier) ScoreQuestion(ctx context.Context, question string) float64 {
	if IsFiller(question) {
		return 0
	}

	completion, err := c.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: questionRubric(question)},
	})
	if err != nil {
		c.logger.Printf("relevance check failed, defaulting to %.1f: %v", neutralScore, err)
		return neutralScore
	}

	score, err := ParseScore(completion.Text)
	if err != nil {
		c.logger.Printf("could not parse relevance score %q, defaulting to %.1f", completion.Text, neutralScore)
		return neutralScore
	}
	return score
}

// IsFiller reports whether a question is conversational filler: a known
// greeting phrase or at most two words.
func IsFiller(question string) bool {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.TrimRight(normalized, ".!?")

	if _, ok := fillerPhrases[normalized]; ok {
		return true
	}
	return len(strings.Fields(normalized)) <= 2
}

// ParseScore extracts a relevance score from a completion: the last
// non-empty line is parsed as a float and clamped to [0,1].
func ParseScore(text string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			last = trimmed
			break
		}
	}

	score, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("parse relevance score %q: %w", last, err)
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func answerRubric(question, answer string) string {
	return fmt.Sprintf(`Your task is to determine whether an answer is directly relevant to the question asked.
Score the relevance on a scale from 0.0 to 1.0, where:
- 1.0 means the answer is highly relevant and directly addresses the question
- 0.0 means the answer is not at all relevant to the question

Examples:
Question: "What's the price of Bitcoin?"
Answer: "As of today, Bitcoin is trading at approximately $50,000 per coin."
Score: 1.0 (Directly answers the question)

Question: "What are the recent developments in DeFi protocols?"
Answer: "Sorry, I don't have specific information about recent DeFi protocol developments."
Score: 0.2 (Acknowledges the topic but doesn't provide substantive information)

Question: "Will crypto recover in the future?"
Answer: "While I cannot predict the future with certainty, many analysts believe the cryptocurrency market is cyclical..."
Score: 0.8 (Addresses the question thoughtfully within limitations)

Question: %s
Answer: %s

First, analyze how directly the answer addresses the specific question asked.
Then provide your score as a decimal number between 0.0 and 1.0.

Relevance Score (just the number):`, question, answer)
}

func questionRubric(question string) string {
	return fmt.Sprintf(`Your task is to determine how relevant a question is to cryptocurrency, markets, and economics news.
Score the relevance on a scale from 0.0 to 1.0, where:
- 1.0 means the question is squarely about crypto, markets, or economics
- 0.0 means the question has nothing to do with those topics

Examples:
Question: "What happened with the Bitcoin ETF approval?"
Score: 1.0

Question: "How do I bake sourdough bread?"
Score: 0.0

Question: "Is inflation affecting altcoin prices?"
Score: 0.9

Question: %s

Provide your score as a decimal number between 0.0 and 1.0.

Relevance Score (just the number):`, question)
}
