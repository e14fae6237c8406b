package reason

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Synthesizer combines an executed reasoning chain into one final answer.
type Synthesizer struct {
	gen    Generator
	logger *zap.Logger
}

// NewSynthesizer creates an answer synthesizer.
func NewSynthesizer(gen Generator, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		gen:    gen,
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

const synthesisPrompt = `Based on the following step-by-step reasoning, provide a comprehensive answer to the original question.

Original Question: %s

Reasoning Chain:
%s

Task: Synthesize a clear, comprehensive answer that:
1. Directly answers the original question
2. Incorporates insights from all reasoning steps
3. Is well-structured and easy to understand

Final Answer:`

// Synthesize issues one generative call over every answered step and
// returns the final answer plus the deduplicated fragment ids that
// grounded the chain. A failed generative call propagates to the caller.
func (s *Synthesizer) Synthesize(ctx context.Context, originalQuery string, chain Chain) (string, []string, error) {
	var summary []string
	for _, step := range chain {
		if step.Answer == "" {
			continue
		}
		summary = append(summary, fmt.Sprintf("Step %d: %s\nAnswer: %s",
			step.StepNumber, step.Question, step.Answer))
	}

	prompt := fmt.Sprintf(synthesisPrompt, originalQuery, strings.Join(summary, "\n"))
	answer, err := s.gen.Generate(ctx, prompt, 300)
	if err != nil {
		return "", nil, fmt.Errorf("synthesize: %w", err)
	}

	return strings.TrimSpace(answer), Sources(chain), nil
}

// Sources returns the union of fragment ids across every step's
// retrieval results, sorted for stable output.
func Sources(chain Chain) []string {
	seen := make(map[string]struct{})
	for _, step := range chain {
		for _, src := range step.Sources {
			seen[src.FragmentID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
