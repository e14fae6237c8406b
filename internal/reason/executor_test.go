package reason

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/retrieval"
)

type fakeRetriever struct {
	results map[string][]retrieval.Result
	err     error
	queries []string
}

func (f *fakeRetriever) Search(ctx context.Context, query string, k int) ([]retrieval.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func planOf(steps ...PlanStep) Plan {
	return Plan{NeedsDecomposition: true, Steps: steps}
}

func TestExecuteSubstitutesPlaceholders(t *testing.T) {
	ret := &fakeRetriever{results: map[string][]retrieval.Result{
		"Who founded Initech?": {{FragmentID: "f1", Text: "Initech was founded by Bill Lumbergh.", Distance: 0.1}},
		"Where was Bill Lumbergh born?": {{FragmentID: "f2", Text: "Bill Lumbergh was born in Austin.", Distance: 0.2}},
	}}
	gen := &fakeGenerator{responses: []string{"Bill Lumbergh", "Austin"}}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	chain := e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "Who founded Initech?", Placeholder: "X"},
		PlanStep{StepNumber: 2, Question: "Where was {X} born?", Placeholder: "Y"},
	), "Where was the founder of Initech born?")

	if len(chain) != 2 {
		t.Fatalf("got %d steps, want 2", len(chain))
	}
	if chain[1].Question != "Where was Bill Lumbergh born?" {
		t.Errorf("placeholder not substituted: %q", chain[1].Question)
	}
	if chain[1].Answer != "Austin" {
		t.Errorf("got answer %q, want Austin", chain[1].Answer)
	}
}

func TestExecuteUndefinedPlaceholderBecomesEmpty(t *testing.T) {
	ret := &fakeRetriever{results: map[string][]retrieval.Result{}}
	gen := &fakeGenerator{}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	chain := e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "Use {MISSING} to answer", Placeholder: "X"},
	), "q")

	if len(chain) != 1 {
		t.Fatalf("got %d steps, want 1", len(chain))
	}
	if got := ret.queries[0]; got != "Use  to answer" {
		t.Errorf("undefined placeholder should substitute empty string, searched %q", got)
	}
}

func TestExecuteEmptyRetrievalDegrades(t *testing.T) {
	ret := &fakeRetriever{results: map[string][]retrieval.Result{
		"second": {{FragmentID: "f1", Text: "useful text", Distance: 0.3}},
	}}
	gen := &fakeGenerator{responses: []string{"a real answer"}}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	chain := e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "first", Placeholder: "X"},
		PlanStep{StepNumber: 2, Question: "second", Placeholder: "Y"},
	), "q")

	if len(chain) != 2 {
		t.Fatalf("chain must continue past a degraded step, got %d steps", len(chain))
	}
	if len(chain[0].Sources) != 0 {
		t.Errorf("degraded step should have no sources, got %d", len(chain[0].Sources))
	}
	if chain[0].Answer != NotFoundAnswer {
		t.Errorf("got %q, want the not-found answer", chain[0].Answer)
	}
	if chain[0].Confidence != 0 {
		t.Errorf("degraded step confidence = %v, want 0", chain[0].Confidence)
	}
	if chain[1].Answer != "a real answer" {
		t.Errorf("second step should still execute, got %q", chain[1].Answer)
	}
}

func TestExecuteRetrievalErrorDegrades(t *testing.T) {
	ret := &fakeRetriever{err: errors.New("index down")}
	gen := &fakeGenerator{}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	chain := e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "first", Placeholder: "X"},
		PlanStep{StepNumber: 2, Question: "second", Placeholder: "Y"},
	), "q")

	if len(chain) != 2 {
		t.Fatalf("got %d steps, want 2", len(chain))
	}
	for _, step := range chain {
		if step.Answer != NotFoundAnswer || len(step.Sources) != 0 {
			t.Errorf("step %d should be degraded: %+v", step.StepNumber, step)
		}
	}
}

func TestExecuteExtractionErrorDegrades(t *testing.T) {
	ret := &fakeRetriever{results: map[string][]retrieval.Result{
		"first": {{FragmentID: "f1", Text: "text", Distance: 0.1}},
	}}
	gen := &fakeGenerator{errs: []error{errors.New("model down")}}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	chain := e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "first", Placeholder: "X"},
	), "q")

	if chain[0].Answer != NotFoundAnswer {
		t.Errorf("got %q, want the not-found answer", chain[0].Answer)
	}
	if len(chain[0].Sources) != 0 {
		t.Error("extraction failure should clear sources")
	}
}

func TestExecuteExtractionPromptIncludesSources(t *testing.T) {
	ret := &fakeRetriever{results: map[string][]retrieval.Result{
		"first": {
			{FragmentID: "f1", Text: "alpha", Distance: 0.1},
			{FragmentID: "f2", Text: "beta", Distance: 0.2},
		},
	}}
	gen := &fakeGenerator{responses: []string{"answer"}}
	e := NewExecutor(ret, gen, 2, zap.NewNop())

	e.Execute(context.Background(), planOf(
		PlanStep{StepNumber: 1, Question: "first", Placeholder: "X"},
	), "q")

	if len(gen.prompts) != 1 {
		t.Fatalf("got %d generative calls, want 1", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "[Source 1]\nalpha") || !strings.Contains(prompt, "[Source 2]\nbeta") {
		t.Errorf("prompt missing source blocks:\n%s", prompt)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		sources []retrieval.Result
		want    float64
	}{
		{"no sources", nil, 0},
		{"close fragments", []retrieval.Result{{Distance: 0.1}, {Distance: 0.3}}, 0.8},
		{"distant fragments", []retrieval.Result{{Distance: 1.5}}, 0},
		{"exact match", []retrieval.Result{{Distance: 0}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidence(tt.sources)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("confidence = %v, want %v", got, tt.want)
			}
		})
	}
}
