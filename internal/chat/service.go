package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/reason"
	"github.com/calder-labs/hoplite/internal/retrieval"
	"github.com/calder-labs/hoplite/internal/session"
)

const (
	minHops = 1
	maxHops = 5

	answerMaxTokens = 512
)

// Decomposer breaks a query into a reasoning plan.
type Decomposer interface {
	Decompose(ctx context.Context, query string, maxHops int) reason.Plan
}

// Executor runs a reasoning plan into a chain.
type Executor interface {
	Execute(ctx context.Context, plan reason.Plan, originalQuery string) reason.Chain
}

// Synthesizer combines a chain into a final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, originalQuery string, chain reason.Chain) (string, []string, error)
}

// Retriever searches the fragment index.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// Sessions is the conversation history collaborator.
type Sessions interface {
	GetHistory(ctx context.Context, conversationID string, limit int) []session.Turn
	Append(ctx context.Context, conversationID, role, content string) error
}

// Options bounds the chat pipeline.
type Options struct {
	HistoryLimit int // turns of history fed into each prompt
	TopK         int // fragments per retrieval
	DefaultHops  int // hop limit when the caller passes zero
}

// Service runs the full question-answering pipeline: strategy selection,
// optional multi-hop reasoning, retrieval-grounded generation, and
// history persistence.
type Service struct {
	decomposer  Decomposer
	executor    Executor
	synthesizer Synthesizer
	retriever   Retriever
	sessions    Sessions
	gen         Generator
	opts        Options
	logger      *zap.Logger
}

// NewService wires the chat pipeline.
func NewService(dec Decomposer, exe Executor, syn Synthesizer, ret Retriever, sessions Sessions, gen Generator, opts Options, logger *zap.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.DefaultHops <= 0 {
		opts.DefaultHops = 3
	}
	return &Service{
		decomposer:  dec,
		executor:    exe,
		synthesizer: syn,
		retriever:   ret,
		sessions:    sessions,
		gen:         gen,
		opts:        opts,
		logger:      logger.With(zap.String("component", "chat")),
	}
}

// Request is one chat call.
type Request struct {
	Query          string
	ConversationID string
	UseRAG         bool
	// UseReasoning forces the strategy when set: true means multi-hop,
	// false means simple. Nil lets the heuristics decide.
	UseReasoning *bool
	// MaxHops caps the reasoning plan; zero takes the configured
	// default, out-of-range values are clamped to [1,5].
	MaxHops int
}

// Result is the structured answer.
type Result struct {
	Answer         string       `json:"answer"`
	ConversationID string       `json:"conversation_id"`
	Sources        []string     `json:"sources"`
	StrategyUsed   string       `json:"strategy_used"`
	ReasoningChain reason.Chain `json:"reasoning_chain,omitempty"`
}

// Chat answers one query. Empty queries are rejected with
// ErrInvalidInput; generative-collaborator failures propagate.
func (s *Service) Chat(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	hops := clampHops(req.MaxHops, s.opts.DefaultHops)
	history := s.sessions.GetHistory(ctx, conversationID, s.opts.HistoryLimit)

	strategy := reason.Select(query, req.UseReasoning)
	s.logger.Info("handling chat",
		zap.String("conversation_id", conversationID),
		zap.String("strategy", strategy.String()),
		zap.Int("max_hops", hops))

	var result *Result
	var err error
	if strategy == reason.StrategyMultiHop {
		result, err = s.multiHop(ctx, query, history, hops)
	} else {
		result, err = s.simple(ctx, query, history, req.UseRAG)
	}
	if err != nil {
		return nil, err
	}
	result.ConversationID = conversationID

	s.persist(ctx, conversationID, query, result.Answer)
	return result, nil
}

// multiHop decomposes, executes, and synthesizes. A plan that does not
// need decomposition falls back to the simple path with retrieval on.
func (s *Service) multiHop(ctx context.Context, query string, history []session.Turn, hops int) (*Result, error) {
	plan := s.decomposer.Decompose(ctx, query, hops)
	if !plan.NeedsDecomposition {
		return s.simple(ctx, query, history, true)
	}

	chain := s.executor.Execute(ctx, plan, query)
	answer, sources, err := s.synthesizer.Synthesize(ctx, query, chain)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:         answer,
		Sources:        sources,
		StrategyUsed:   reason.StrategyMultiHop.String(),
		ReasoningChain: chain,
	}, nil
}

// simple answers in one generative call, optionally grounded in
// retrieved context.
func (s *Service) simple(ctx context.Context, query string, history []session.Turn, useRAG bool) (*Result, error) {
	var docContext string
	var sources []string
	if useRAG {
		results, err := s.retriever.Search(ctx, query, s.opts.TopK)
		if err != nil {
			return nil, err
		}
		docContext = retrieval.FormatContext(results)
		for _, r := range results {
			sources = append(sources, r.FragmentID)
		}
	}

	prompt := buildPrompt(history, docContext, query)
	answer, err := s.gen.Generate(ctx, prompt, answerMaxTokens)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:       strings.TrimSpace(answer),
		Sources:      sources,
		StrategyUsed: reason.StrategySimple.String(),
	}, nil
}

// persist appends both turns. A store failure loses history but not the
// answer, so it is logged rather than surfaced.
func (s *Service) persist(ctx context.Context, conversationID, query, answer string) {
	if err := s.sessions.Append(ctx, conversationID, "user", query); err != nil {
		s.logger.Warn("failed to persist user turn",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if err := s.sessions.Append(ctx, conversationID, "assistant", answer); err != nil {
		s.logger.Warn("failed to persist assistant turn",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func clampHops(requested, fallback int) int {
	if requested == 0 {
		requested = fallback
	}
	if requested < minHops {
		return minHops
	}
	if requested > maxHops {
		return maxHops
	}
	return requested
}

// buildPrompt renders history, optional document context, and the query
// into a single completion prompt.
func buildPrompt(history []session.Turn, docContext, query string) string {
	var b strings.Builder
	if docContext != "" {
		b.WriteString("Use the following context to answer the question. If the context does not contain the answer, say so.\n\nContext:\n")
		b.WriteString(docContext)
		b.WriteString("\n\n")
	}
	for _, turn := range history {
		switch turn.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(query)
	b.WriteString("\nAssistant:")
	return b.String()
}

// promptStop ends generation before the model invents the next user turn.
var promptStop = []string{"\nUser:"}
