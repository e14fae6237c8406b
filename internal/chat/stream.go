package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/provider"
	"github.com/calder-labs/hoplite/internal/retrieval"
)

// StreamEvent is one item on the token stream. Exactly one terminal
// event is emitted: Done on completion or Err on failure.
type StreamEvent struct {
	Token string
	Err   error
	Done  bool
}

// Stream answers a query token by token. The prompt is built once from
// history, optional retrieved context, and the query; tokens are
// forwarded as they arrive. Both turns are persisted only when the
// stream completes; cancellation or a mid-stream failure discards the
// partial text. Streaming always takes the simple path; reasoning plans
// are never revealed as tokens.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan StreamEvent, string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, "", fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	history := s.sessions.GetHistory(ctx, conversationID, s.opts.HistoryLimit)

	var docContext string
	if req.UseRAG {
		results, err := s.retriever.Search(ctx, query, s.opts.TopK)
		if err != nil {
			return nil, "", err
		}
		docContext = retrieval.FormatContext(results)
	}

	prompt := buildPrompt(history, docContext, query)
	chunks, err := s.gen.GenerateStream(ctx, prompt, promptStop)
	if err != nil {
		return nil, "", err
	}

	events := make(chan StreamEvent, 64)
	go s.pump(ctx, conversationID, query, chunks, events)
	return events, conversationID, nil
}

func (s *Service) pump(ctx context.Context, conversationID, query string, chunks <-chan *provider.StreamChunk, events chan<- StreamEvent) {
	defer close(events)

	var accumulated strings.Builder
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream cancelled, discarding partial response",
				zap.String("conversation_id", conversationID))
			return
		case chunk, ok := <-chunks:
			if !ok {
				// Collaborator closed without a terminal chunk.
				events <- StreamEvent{Err: fmt.Errorf("stream ended unexpectedly")}
				return
			}
			if chunk.Done {
				s.persist(ctx, conversationID, query, strings.TrimSpace(accumulated.String()))
				events <- StreamEvent{Done: true}
				return
			}
			if chunk.Content != "" {
				accumulated.WriteString(chunk.Content)
				events <- StreamEvent{Token: chunk.Content}
			}
		}
	}
}
