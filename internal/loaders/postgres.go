package loaders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

type PostgresClient struct {
	dsn  string
	pool *pgxpool.Pool
}

// UserRecord is a registered user (onboarding finished).
type UserRecord struct {
	ID        string
	Phone     string
	Name      *string
	Nickname  *string
	CreatedAt time.Time
}

// LeadRecord is a contact that has written in but is not yet a user.
type LeadRecord struct {
	ID                  string
	Phone               string
	Name                *string
	OnboardingConcluido bool
	Onboarding          map[string]interface{}
	UserID              *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AgentRecord is a row from the agents table.
type AgentRecord struct {
	ID          string
	Identifier  string
	Name        string
	Prompt      string
	Description *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MessageRow struct {
	ID              string
	BufferKey       string
	Phone           string
	Role            string // user | assistant
	Content         string
	Agent           string
	Channel         string
	ChannelMetadata map[string]interface{}
	CreatedAt       time.Time
}

func NewPostgresClient(dsn string, workerCount, batchSize int) (*PostgresClient, error) {
	client := &PostgresClient{
		dsn: dsn,
	}

	pool, err := client.createConnectionPool(workerCount, batchSize)
	if err != nil {
		return nil, err
	}

	client.pool = pool
	utils.Zlog.Info("Successfully connected to PostgreSQL database with connection pool")
	return client, nil
}

func (c *PostgresClient) createConnectionPool(workerCount, batchSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres DSN: %w", err)
	}

	cfg.MaxConns = int32(workerCount) + 2
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = 60 * time.Minute
	cfg.MaxConnIdleTime = 15 * time.Minute

	utils.Zlog.Info("Creating Postgres connection pool",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int("batch_size", batchSize))
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	return pool, nil
}

func (c *PostgresClient) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

func (c *PostgresClient) GetPool() *pgxpool.Pool {
	return c.pool
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if c.pool == nil {
		return errors.New("postgres pool not initialised")
	}
	return c.pool.Ping(ctx)
}

// FindUserByPhone returns ErrNotFound when no user has the phone number.
func (c *PostgresClient) FindUserByPhone(ctx context.Context, phone string) (*UserRecord, error) {
	query := `
		SELECT id, phone, name, nickname, created_at
		FROM users
		WHERE phone = $1
		LIMIT 1
	`

	var u UserRecord
	err := c.pool.QueryRow(ctx, query, phone).Scan(&u.ID, &u.Phone, &u.Name, &u.Nickname, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return &u, nil
}

// FindLeadByPhone returns ErrNotFound when no lead has the phone number.
func (c *PostgresClient) FindLeadByPhone(ctx context.Context, phone string) (*LeadRecord, error) {
	query := `
		SELECT id, phone, name, onboarding_concluido, onboarding, user_id, created_at, updated_at
		FROM leads
		WHERE phone = $1
		LIMIT 1
	`

	lead, err := scanLead(c.pool.QueryRow(ctx, query, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return lead, nil
}

// CreateLead inserts a lead with onboarding not concluded. A concurrent insert
// for the same phone returns the existing row.
func (c *PostgresClient) CreateLead(ctx context.Context, phone string, name *string) (*LeadRecord, error) {
	query := `
		INSERT INTO leads (phone, name, onboarding_concluido, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		ON CONFLICT (phone) DO UPDATE SET updated_at = NOW()
		RETURNING id, phone, name, onboarding_concluido, onboarding, user_id, created_at, updated_at
	`

	lead, err := scanLead(c.pool.QueryRow(ctx, query, phone, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	return lead, nil
}

// CompleteLeadOnboarding marks the lead's onboarding as concluded.
func (c *PostgresClient) CompleteLeadOnboarding(ctx context.Context, phone string) error {
	query := `
		UPDATE leads
		SET onboarding_concluido = TRUE, updated_at = NOW()
		WHERE phone = $1
	`

	tag, err := c.pool.Exec(ctx, query, phone)
	if err != nil {
		return fmt.Errorf("failed to complete onboarding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadActiveAgents queries every agent flagged as active.
func (c *PostgresClient) LoadActiveAgents(ctx context.Context) ([]AgentRecord, error) {
	query := `
		SELECT id, identifier, name, prompt, description, ativo, created_at, updated_at
		FROM agents
		WHERE ativo = TRUE
		ORDER BY identifier
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var records []AgentRecord
	for rows.Next() {
		var a AgentRecord
		if err := rows.Scan(&a.ID, &a.Identifier, &a.Name, &a.Prompt, &a.Description, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			utils.Zlog.Warn("Failed to scan agent row", zap.Error(err))
			continue
		}
		records = append(records, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return records, nil
}

// BatchInsertMessages inserts a batch of messages into the messages table
// in one round trip. Rows that fail are logged and skipped.
func (c *PostgresClient) BatchInsertMessages(ctx context.Context, rows []MessageRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO messages (
			id, buffer_key, phone, role, content, agent, channel, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for _, r := range rows {
		channel := r.Channel
		if channel == "" {
			channel = "WHATSAPP"
		}

		var agent interface{}
		if r.Agent != "" {
			agent = r.Agent
		}

		var metadataJSON interface{}
		if r.ChannelMetadata != nil {
			jsonBytes, err := json.Marshal(r.ChannelMetadata)
			if err != nil {
				utils.Zlog.Warn("Failed to marshal channel metadata", zap.String("message_id", r.ID), zap.Error(err))
			} else {
				metadataJSON = jsonBytes
			}
		}

		batch.Queue(query,
			r.ID,
			r.BufferKey,
			r.Phone,
			r.Role,
			r.Content,
			agent,
			channel,
			metadataJSON,
			r.CreatedAt.UTC(),
		)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer results.Close()

	successCount := 0
	for _, r := range rows {
		if _, err := results.Exec(); err != nil {
			utils.Zlog.Warn("Failed to insert message",
				zap.String("message_id", r.ID),
				zap.String("buffer_key", r.BufferKey),
				zap.Error(err))
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("failed to insert any messages")
	}
	return nil
}

func scanLead(row pgx.Row) (*LeadRecord, error) {
	var (
		l          LeadRecord
		onboarding []byte
	)
	if err := row.Scan(&l.ID, &l.Phone, &l.Name, &l.OnboardingConcluido, &onboarding, &l.UserID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if len(onboarding) > 0 {
		if err := json.Unmarshal(onboarding, &l.Onboarding); err != nil {
			utils.Zlog.Warn("Failed to decode lead onboarding payload", zap.String("lead_id", l.ID), zap.Error(err))
		}
	}
	return &l, nil
}
