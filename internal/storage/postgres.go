package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xaenox/support-router/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

const pqUniqueViolation = "23505"

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageWithDB(db, logger)

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL", zap.String("host", config.Host), zap.String("dbname", config.DBName))
	return storage, nil
}

// NewPostgresStorageWithDB wraps an open handle without running migrations.
func NewPostgresStorageWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStorage{db: db, logger: logger, now: time.Now}
}

func (s *PostgresStorage) initializeSchema() error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	// Execute migrations
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) UpsertAgent(ctx context.Context, a *models.Agent) error {
	c := a.Clone()
	c.Normalize()

	// current_active_chats is owned by CommitAssignment and only seeded on insert.
	query := `
		INSERT INTO agents (id, tenant_id, name, skills, languages, satisfaction,
			avg_response_time_seconds, resolution_rate, status, current_active_chats, max_concurrent_chats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			skills = EXCLUDED.skills,
			languages = EXCLUDED.languages,
			satisfaction = EXCLUDED.satisfaction,
			avg_response_time_seconds = EXCLUDED.avg_response_time_seconds,
			resolution_rate = EXCLUDED.resolution_rate,
			status = EXCLUDED.status,
			max_concurrent_chats = EXCLUDED.max_concurrent_chats,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.TenantID,
		c.Name,
		pq.Array(c.Skills),
		pq.Array(c.Languages),
		c.Performance.Satisfaction,
		c.Performance.AvgResponseTimeSeconds,
		c.Performance.ResolutionRate,
		string(c.Availability.Status),
		c.Availability.CurrentActiveChats,
		c.Availability.MaxConcurrentChats,
	)
	if err != nil {
		return fmt.Errorf("error upserting agent: %w", err)
	}
	return nil
}

const agentColumns = `id, tenant_id, name, skills, languages, satisfaction, avg_response_time_seconds,
	resolution_rate, status, current_active_chats, max_concurrent_chats`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	var status string
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		pq.Array(&a.Skills),
		pq.Array(&a.Languages),
		&a.Performance.Satisfaction,
		&a.Performance.AvgResponseTimeSeconds,
		&a.Performance.ResolutionRate,
		&status,
		&a.Availability.CurrentActiveChats,
		&a.Availability.MaxConcurrentChats,
	)
	if err != nil {
		return nil, err
	}
	a.Availability.Status = models.AgentStatus(status)
	a.Normalize()
	return a, nil
}

func (s *PostgresStorage) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStorage) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("error querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func (s *PostgresStorage) CommitAssignment(ctx context.Context, a *models.Assignment) (err error) {
	score, err := json.Marshal(a.Score)
	if err != nil {
		return fmt.Errorf("error encoding score: %w", err)
	}
	aiContext, err := json.Marshal(a.AIContext)
	if err != nil {
		return fmt.Errorf("error encoding ai context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var prevAgent string
	err = tx.QueryRowContext(ctx,
		`SELECT agent_id FROM assignments WHERE conversation_id = $1 AND superseded_at IS NULL FOR UPDATE`,
		a.ConversationID,
	).Scan(&prevAgent)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error reading current assignment: %w", err)
	}
	err = nil
	sameAgent := hasPrev && prevAgent == a.AgentID

	if !sameAgent {
		// The conditional increment is the capacity check: concurrent claims on
		// the last slot serialize on the row lock and the loser matches no row.
		res, execErr := tx.ExecContext(ctx,
			`UPDATE agents SET current_active_chats = current_active_chats + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'online' AND current_active_chats < max_concurrent_chats`,
			a.AgentID,
		)
		if execErr != nil {
			return fmt.Errorf("error reserving agent capacity: %w", execErr)
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return fmt.Errorf("error getting rows affected: %w", execErr)
		}
		if n == 0 {
			s.logger.Debug("Agent capacity exhausted at commit",
				zap.String("agent_id", a.AgentID),
				zap.String("conversation_id", a.ConversationID))
			err = ErrCapacityExhausted
			return err
		}
	}

	now := s.now().UTC()
	if hasPrev {
		if _, err = tx.ExecContext(ctx,
			`UPDATE assignments SET superseded_at = $2 WHERE conversation_id = $1 AND superseded_at IS NULL`,
			a.ConversationID, now,
		); err != nil {
			return fmt.Errorf("error superseding assignment: %w", err)
		}
		if !sameAgent {
			if _, err = tx.ExecContext(ctx,
				`UPDATE agents SET current_active_chats = GREATEST(current_active_chats - 1, 0), updated_at = NOW() WHERE id = $1`,
				prevAgent,
			); err != nil {
				return fmt.Errorf("error releasing previous agent: %w", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments (id, tenant_id, conversation_id, agent_id, priority, required_skills,
			estimated_handling_time_minutes, score, ai_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID,
		a.TenantID,
		a.ConversationID,
		a.AgentID,
		string(a.Priority),
		pq.Array(a.RequiredSkills),
		a.EstimatedHandlingTimeMinutes,
		score,
		aiContext,
		a.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			err = ErrConcurrentAssignment
			return err
		}
		return fmt.Errorf("error inserting assignment: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM routing_queue WHERE conversation_id = $1`, a.ConversationID); err != nil {
		return fmt.Errorf("error clearing queue entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing assignment: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CurrentAssignment(ctx context.Context, conversationID string) (*models.Assignment, error) {
	query := `
		SELECT id, tenant_id, conversation_id, agent_id, priority, required_skills,
			estimated_handling_time_minutes, score, ai_context, created_at
		FROM assignments
		WHERE conversation_id = $1 AND superseded_at IS NULL`

	a := &models.Assignment{}
	var priority string
	var score, aiContext []byte
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&a.ID,
		&a.TenantID,
		&a.ConversationID,
		&a.AgentID,
		&priority,
		pq.Array(&a.RequiredSkills),
		&a.EstimatedHandlingTimeMinutes,
		&score,
		&aiContext,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying assignment: %w", err)
	}
	a.Priority = models.Priority(priority)
	if err := json.Unmarshal(score, &a.Score); err != nil {
		return nil, fmt.Errorf("error decoding score: %w", err)
	}
	if err := json.Unmarshal(aiContext, &a.AIContext); err != nil {
		return nil, fmt.Errorf("error decoding ai context: %w", err)
	}
	return a, nil
}

func (s *PostgresStorage) CloseConversation(ctx context.Context, conversationID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var agentID string
	err = tx.QueryRowContext(ctx,
		`UPDATE assignments SET superseded_at = $2 WHERE conversation_id = $1 AND superseded_at IS NULL RETURNING agent_id`,
		conversationID, s.now().UTC(),
	).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("error closing assignment: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE agents SET current_active_chats = GREATEST(current_active_chats - 1, 0), updated_at = NOW() WHERE id = $1`,
		agentID,
	); err != nil {
		return fmt.Errorf("error releasing agent: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing close: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Enqueue(ctx context.Context, e *models.QueueEntry) error {
	query := `
		INSERT INTO routing_queue (id, tenant_id, conversation_id, priority, priority_rank, required_skills, language, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			priority_rank = EXCLUDED.priority_rank,
			required_skills = EXCLUDED.required_skills,
			language = EXCLUDED.language`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.TenantID,
		e.ConversationID,
		string(e.Priority),
		e.Priority.Rank(),
		pq.Array(e.RequiredSkills),
		e.Language,
		e.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("error enqueueing conversation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Dequeue(ctx context.Context, tenantID string) (*models.QueueEntry, error) {
	query := `
		DELETE FROM routing_queue
		WHERE id = (
			SELECT id FROM routing_queue
			WHERE tenant_id = $1
			ORDER BY priority_rank DESC, enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, conversation_id, priority, required_skills, language, enqueued_at`

	e := &models.QueueEntry{}
	var priority string
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&e.ID,
		&e.TenantID,
		&e.ConversationID,
		&priority,
		pq.Array(&e.RequiredSkills),
		&e.Language,
		&e.EnqueuedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error dequeueing conversation: %w", err)
	}
	e.Priority = models.Priority(priority)
	return e, nil
}

func (s *PostgresStorage) QueueLength(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routing_queue WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting queue: %w", err)
	}
	return n, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
