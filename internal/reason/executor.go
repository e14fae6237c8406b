package reason

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/retrieval"
)

// NotFoundAnswer is the answer recorded for a hop whose retrieval or
// extraction produced nothing usable.
const NotFoundAnswer = "Information not found in documents."

// Retriever is the retrieval collaborator the executor consumes.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// Executor runs a reasoning plan step by step, feeding each answer into
// the questions that reference it.
type Executor struct {
	retriever Retriever
	gen       Generator
	topK      int
	logger    *zap.Logger
}

// NewExecutor creates a hop executor retrieving topK fragments per step.
func NewExecutor(retriever Retriever, gen Generator, topK int, logger *zap.Logger) *Executor {
	if topK < 1 {
		topK = 2
	}
	return &Executor{
		retriever: retriever,
		gen:       gen,
		topK:      topK,
		logger:    logger.With(zap.String("component", "executor")),
	}
}

const extractionPrompt = `Answer this specific question using ONLY the provided context.
Be concise and factual. If the context doesn't contain the answer, say %q.

Context:
%s

Question: %s

Concise Answer (1-2 sentences):`

// placeholderRe matches {X}-style references to earlier step answers.
var placeholderRe = regexp.MustCompile(`\{[A-Za-z_]\w*\}`)

// Execute runs every step of the plan in order and returns the full
// chain. A failed step degrades to an empty-sources, zero-confidence
// entry; it never aborts the remaining steps.
func (e *Executor) Execute(ctx context.Context, plan Plan, originalQuery string) Chain {
	chain := make(Chain, 0, len(plan.Steps))
	answers := make(map[string]string)

	for i, planned := range plan.Steps {
		stepNum := i + 1
		question := substitute(planned.Question, answers)

		e.logger.Info("executing hop",
			zap.Int("step", stepNum), zap.Int("of", len(plan.Steps)),
			zap.String("question", truncate(question, 120)))

		step := e.runStep(ctx, stepNum, question)

		placeholder := planned.Placeholder
		if placeholder == "" {
			placeholder = fmt.Sprintf("answer_%d", stepNum)
		}
		answers[placeholder] = step.Answer

		chain = append(chain, step)
	}

	return chain
}

func (e *Executor) runStep(ctx context.Context, stepNum int, question string) Step {
	step := Step{StepNumber: stepNum, Question: question}

	sources, err := e.retriever.Search(ctx, question, e.topK)
	if err != nil {
		e.logger.Warn("hop retrieval failed, recording degraded step",
			zap.Int("step", stepNum), zap.Error(err))
		step.Answer = NotFoundAnswer
		return step
	}
	step.Sources = sources

	if len(sources) == 0 {
		step.Answer = NotFoundAnswer
		return step
	}

	answer, err := e.extract(ctx, question, sources)
	if err != nil {
		e.logger.Warn("hop extraction failed, recording degraded step",
			zap.Int("step", stepNum), zap.Error(err))
		step.Sources = nil
		step.Answer = NotFoundAnswer
		return step
	}

	step.Answer = answer
	step.Confidence = confidence(sources)
	return step
}

func (e *Executor) extract(ctx context.Context, question string, sources []retrieval.Result) (string, error) {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = fmt.Sprintf("[Source %d]\n%s", i+1, s.Text)
	}
	prompt := fmt.Sprintf(extractionPrompt, NotFoundAnswer, strings.Join(blocks, "\n\n"), question)

	answer, err := e.gen.Generate(ctx, prompt, 100)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = NotFoundAnswer
	}
	return answer, nil
}

// substitute replaces {X}-style references with earlier answers. A
// reference to an undefined placeholder becomes an empty string rather
// than an error, so a bad plan degrades instead of aborting.
func substitute(question string, answers map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(question, func(match string) string {
		name := match[1 : len(match)-1]
		return answers[name]
	})
}

// confidence maps retrieval quality into [0,1]: one minus the mean
// distance, clamped. No sources means zero confidence.
func confidence(sources []retrieval.Result) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Distance
	}
	c := 1 - sum/float64(len(sources))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
