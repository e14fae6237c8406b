package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/session"
)

// Postgres is the PostgreSQL-backed conversation store.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (p *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := p.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		p.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Load returns the full conversation history, oldest first.
func (p *Postgres) Load(ctx context.Context, conversationID string) ([]session.Turn, error) {
	rows, err := p.db.Query(ctx, `
		SELECT role, content, created_at
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var t session.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Save appends one turn to the conversation.
func (p *Postgres) Save(ctx context.Context, conversationID string, turn session.Turn) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO conversation_turns (id, conversation_id, role, content, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`,
		conversationID, turn.Role, turn.Content, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// Delete removes every turn of the conversation.
func (p *Postgres) Delete(ctx context.Context, conversationID string) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM conversation_turns WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() {
	p.db.Close()
}
