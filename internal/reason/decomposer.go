package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Decomposer asks the generative collaborator to break a query into
// sequential sub-questions.
type Decomposer struct {
	gen    Generator
	logger *zap.Logger
}

// NewDecomposer creates a query decomposer.
func NewDecomposer(gen Generator, logger *zap.Logger) *Decomposer {
	return &Decomposer{
		gen:    gen,
		logger: logger.With(zap.String("component", "decomposer")),
	}
}

const decompositionPrompt = `Analyze this question and determine if it requires multi-hop reasoning:

Question: %q

Multi-hop reasoning is needed when:
- The question requires connecting multiple pieces of information
- You need to answer one question before you can answer another
- There are implicit steps or dependencies
- The question involves relationships between entities

Task:
1. Does this need multi-hop reasoning? (true/false)
2. If yes, break it into sequential sub-questions
3. Each step should have a placeholder for its answer (X, Y, Z, etc.)

Respond ONLY with valid JSON:
{
    "needs_multi_hop": true or false,
    "reasoning_steps": [
        {
            "step": 1,
            "question": "First question to answer",
            "answer_placeholder": "X",
            "reasoning": "Why this step is needed"
        },
        {
            "step": 2,
            "question": "Use {X} to find...",
            "answer_placeholder": "Y",
            "reasoning": "How this builds on previous step"
        }
    ],
    "analysis": "Brief explanation of the reasoning approach"
}

JSON Response:`

// wire format of the model's decomposition output
type planDoc struct {
	NeedsMultiHop  bool       `json:"needs_multi_hop"`
	ReasoningSteps []PlanStep `json:"reasoning_steps"`
	Analysis       string     `json:"analysis"`
}

// Decompose issues exactly one generative call and validates its output
// into a Plan. Any failure (the call itself, malformed JSON, a plan
// that violates the schema) falls back to a no-decomposition plan with
// a warning; it never returns an error.
func (d *Decomposer) Decompose(ctx context.Context, query string, maxHops int) Plan {
	fallback := Plan{NeedsDecomposition: false}

	raw, err := d.gen.Generate(ctx, fmt.Sprintf(decompositionPrompt, query), 500)
	if err != nil {
		d.logger.Warn("decomposition call failed, falling back to simple", zap.Error(err))
		return fallback
	}

	doc, err := parsePlan(raw)
	if err != nil {
		d.logger.Warn("invalid decomposition, falling back to simple",
			zap.Error(err), zap.String("response", truncate(raw, 200)))
		return fallback
	}

	if !doc.NeedsMultiHop {
		return fallback
	}

	steps := doc.ReasoningSteps
	if len(steps) > maxHops {
		d.logger.Warn("plan longer than hop limit, truncating",
			zap.Int("planned", len(steps)), zap.Int("max_hops", maxHops))
		steps = steps[:maxHops]
	}

	if err := validateSteps(steps); err != nil {
		d.logger.Warn("invalid decomposition, falling back to simple",
			zap.Error(err), zap.String("response", truncate(raw, 200)))
		return fallback
	}

	d.logger.Info("query decomposed",
		zap.Int("steps", len(steps)), zap.String("analysis", doc.Analysis))
	return Plan{
		NeedsDecomposition: true,
		Steps:              steps,
		Analysis:           doc.Analysis,
	}
}

// parsePlan pulls the JSON object out of the model's text. Models often
// wrap the JSON in prose, so everything outside the outermost braces is
// discarded.
func parsePlan(raw string) (*planDoc, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var doc planDoc
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &doc, nil
}

func validateSteps(steps []PlanStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("multi-hop plan with no steps")
	}
	for i, s := range steps {
		if s.StepNumber != i+1 {
			return fmt.Errorf("step %d numbered %d, want %d", i, s.StepNumber, i+1)
		}
		if strings.TrimSpace(s.Question) == "" {
			return fmt.Errorf("step %d has an empty question", s.StepNumber)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
