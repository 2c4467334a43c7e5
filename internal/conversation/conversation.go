// Package conversation provides conversation persistence and session-context
// resolution.
//
// A conversation is bound to (user, organization, project, application) and
// reused while it stays inside a sliding idle window; afterwards a new one is
// created. The loader is read-only: turn creation happens explicitly via
// AppendTurn after generation.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IdleWindow is the sliding inactivity window after which a new conversation
// is started instead of resuming the previous one.
const IdleWindow = 30 * time.Minute

// MaxRecentTurns bounds the rolling history loaded into a session context.
const MaxRecentTurns = 12

// Identity binds a conversation to its owner and scope.
type Identity struct {
	UserID         string
	OrganizationID string
	ProjectID      string
	AppID          string
}

// Message is a single conversation turn.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	GenerationMode string
	Sources        []SourceRef
	SequenceNumber int
	CreatedAt      time.Time
}

// SourceRef is the persisted citation shape attached to assistant turns.
type SourceRef struct {
	FileID       string  `json:"file_id,omitempty"`
	FragmentID   string  `json:"fragment_id,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	SourceType   string  `json:"source_type,omitempty"`
	Layer        string  `json:"layer,omitempty"`
	Score        float64 `json:"score,omitempty"`
	SectionTitle string  `json:"section_title,omitempty"`
	PageStart    int     `json:"page_start,omitempty"`
	PageEnd      int     `json:"page_end,omitempty"`
	Level        int     `json:"level,omitempty"`
}

// Context is the resolved session context for one request.
type Context struct {
	ConversationID uuid.UUID
	Identity       Identity
	RecentTurns    []Message
	UsedFileIDs    []uuid.UUID
}

// Store manages conversations and messages in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Resolve returns the session context for an identity, reusing the most
// recent conversation inside the idle window or creating a new one.
func (s *Store) Resolve(ctx context.Context, id Identity) (*Context, error) {
	if id.UserID == "" || id.AppID == "" {
		return nil, fmt.Errorf("user id and app id are required")
	}

	var convID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM conversations
		 WHERE user_id = $1 AND app_id = $2
		   AND organization_id IS NOT DISTINCT FROM NULLIF($3, '')
		   AND project_id IS NOT DISTINCT FROM NULLIF($4, '')
		   AND last_activity_at > now() - make_interval(secs => $5)
		 ORDER BY last_activity_at DESC
		 LIMIT 1`,
		id.UserID, id.AppID, id.OrganizationID, id.ProjectID, IdleWindow.Seconds(),
	).Scan(&convID)

	switch {
	case err == nil:
		// Resume existing conversation.
	case err == pgx.ErrNoRows:
		createErr := s.pool.QueryRow(ctx,
			`INSERT INTO conversations (user_id, organization_id, project_id, app_id)
			 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
			 RETURNING id`,
			id.UserID, id.OrganizationID, id.ProjectID, id.AppID,
		).Scan(&convID)
		if createErr != nil {
			return nil, fmt.Errorf("creating conversation: %w", createErr)
		}
		s.logger.Debug("created conversation", "id", convID, "user", id.UserID)
	default:
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	turns, err := s.RecentTurns(ctx, convID, MaxRecentTurns)
	if err != nil {
		return nil, err
	}

	return &Context{
		ConversationID: convID,
		Identity:       id,
		RecentTurns:    turns,
		UsedFileIDs:    usedFileIDs(turns),
	}, nil
}

// RecentTurns loads the newest limit messages of a conversation in
// chronological order.
func (s *Store) RecentTurns(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = MaxRecentTurns
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content,
		        COALESCE(generation_mode, ''), COALESCE(sources, 'null'::jsonb),
		        sequence_number, created_at
		 FROM (
		   SELECT * FROM conversation_messages
		   WHERE conversation_id = $1
		   ORDER BY sequence_number DESC
		   LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Message
	for rows.Next() {
		var m Message
		var sourcesJSON []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.GenerationMode, &sourcesJSON, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if len(sourcesJSON) > 0 && string(sourcesJSON) != "null" {
			if err := json.Unmarshal(sourcesJSON, &m.Sources); err != nil {
				s.logger.Warn("malformed sources on message", "message_id", m.ID, "error", err)
			}
		}
		turns = append(turns, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return turns, nil
}

// AppendTurn persists one turn and bumps conversation activity. Sequence
// numbers are assigned inside a transaction to keep them gap-free under
// concurrent appends to the same conversation.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, m Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	// Lock the conversation row so concurrent appends serialize on the
	// sequence number.
	var locked uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&locked); err != nil {
		return fmt.Errorf("locking conversation: %w", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1
		 FROM conversation_messages
		 WHERE conversation_id = $1`,
		conversationID,
	).Scan(&next); err != nil {
		return fmt.Errorf("allocating sequence number: %w", err)
	}

	var sourcesJSON []byte
	if len(m.Sources) > 0 {
		sourcesJSON, err = json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("marshaling sources: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages
		   (conversation_id, role, content, generation_mode, sources, sequence_number)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		conversationID, m.Role, m.Content, m.GenerationMode, sourcesJSON, next,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET last_activity_at = now() WHERE id = $1`,
		conversationID,
	); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}
	return nil
}

// usedFileIDs collects the distinct file ids cited by prior assistant turns,
// oldest first.
func usedFileIDs(turns []Message) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, m := range turns {
		if m.Role != RoleAssistant {
			continue
		}
		for _, src := range m.Sources {
			id, err := uuid.Parse(src.FileID)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
