package reason

import (
	"context"

	"github.com/calder-labs/hoplite/internal/retrieval"
)

// Strategy selects how a query is answered.
type Strategy int

const (
	// StrategySimple answers in one pass: optional retrieval, one
	// generative call.
	StrategySimple Strategy = iota
	// StrategyMultiHop decomposes the query into dependent sub-questions
	// executed sequentially.
	StrategyMultiHop
)

func (s Strategy) String() string {
	if s == StrategyMultiHop {
		return "multi_hop"
	}
	return "simple"
}

// Generator is the generative collaborator the reasoning components
// drive. It wraps a routed chat completion behind a plain-text call.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// PlanStep is one sub-question in a reasoning plan. Placeholder names the
// variable this step's answer is bound to; later steps may interpolate it
// with {Placeholder} in their question text.
type PlanStep struct {
	StepNumber  int    `json:"step"`
	Question    string `json:"question"`
	Placeholder string `json:"answer_placeholder"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// Plan is the decomposer's output. When NeedsDecomposition is false the
// step list is empty and the caller falls back to the simple strategy.
type Plan struct {
	NeedsDecomposition bool
	Steps              []PlanStep
	Analysis           string
}

// Step is one executed hop: the composed question, its extracted answer,
// the fragments that grounded it, and a confidence score in [0,1].
type Step struct {
	StepNumber int                `json:"step_number"`
	Question   string             `json:"question"`
	Answer     string             `json:"answer"`
	Sources    []retrieval.Result `json:"sources"`
	Confidence float64            `json:"confidence"`
}

// Chain is the ordered sequence of executed steps.
type Chain []Step
