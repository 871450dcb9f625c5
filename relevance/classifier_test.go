package relevance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitran/crypto-rag/llm"
)

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Complete(_ context.Context, _ []llm.Message) (llm.Completion, error) {
	s.calls++
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	return llm.Completion{Text: s.reply}, nil
}

func TestParseScoreLastNonEmptyLine(t *testing.T) {
	score, err := ParseScore("The answer addresses the question well.\n\n0.73\n")
	require.NoError(t, err)
	assert.InDelta(t, 0.73, score, 1e-9)
}

func TestParseScorePlainNumber(t *testing.T) {
	score, err := ParseScore("0.2")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, score, 1e-9)
}

func TestParseScoreClampsOutOfRange(t *testing.T) {
	score, err := ParseScore("1.4")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	score, err = ParseScore("-0.3")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestParseScoreRejectsNonNumeric(t *testing.T) {
	_, err := ParseScore("the answer is quite relevant")
	assert.Error(t, err)
}

func TestScoreAnswerDefaultsOnUnparseableReply(t *testing.T) {
	classifier := NewClassifier(&stubLLM{reply: "I cannot give a number here"}, nil)

	score := classifier.ScoreAnswer(context.Background(), "What moved Bitcoin today?", "ETF inflows.")
	assert.Equal(t, 0.5, score)
}

func TestScoreAnswerDefaultsOnBackendFailure(t *testing.T) {
	classifier := NewClassifier(&stubLLM{err: errors.New("rate limited")}, nil)

	score := classifier.ScoreAnswer(context.Background(), "What moved Bitcoin today?", "ETF inflows.")
	assert.Equal(t, 0.5, score)
}

func TestScoreAnswerUsesReply(t *testing.T) {
	classifier := NewClassifier(&stubLLM{reply: "Score: reasoning above.\n0.8"}, nil)

	score := classifier.ScoreAnswer(context.Background(), "Will crypto recover?", "Many analysts believe so.")
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestScoreQuestionSkipsLLMForFiller(t *testing.T) {
	stub := &stubLLM{reply: "0.9"}
	classifier := NewClassifier(stub, nil)

	score := classifier.ScoreQuestion(context.Background(), "hello")
	assert.Equal(t, 0.0, score)
	assert.Zero(t, stub.calls)
}

func TestScoreQuestionCallsLLMForRealQuestions(t *testing.T) {
	stub := &stubLLM{reply: "0.9"}
	classifier := NewClassifier(stub, nil)

	score := classifier.ScoreQuestion(context.Background(), "How did the Bitcoin ETF approval affect prices?")
	assert.InDelta(t, 0.9, score, 1e-9)
	assert.Equal(t, 1, stub.calls)
}

func TestIsFiller(t *testing.T) {
	cases := []struct {
		question string
		want     bool
	}{
		{"hi", true},
		{"Hello!", true},
		{"THANK YOU", true},
		{"good morning", true},
		{"ok then", true},
		{"what is bitcoin", false},
		{"How did the halving affect miner revenue?", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, IsFiller(tc.question), "question %q", tc.question)
	}
}
