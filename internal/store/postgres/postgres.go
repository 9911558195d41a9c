package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crossposter/crossposter/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var (
	openDB = sql.Open
	psql   = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

var userColumns = []string{"email", "utm_rules", "linkedin_organization", "created_at", "updated_at"}

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"users",
		"credentials",
		"publish_jobs",
		"job_events",
		"job_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) UpsertUser(ctx context.Context, email string) (*store.User, error) {
	query, args, err := psql.Insert("users").
		Columns("email").
		Values(email).
		Suffix("ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, err
	}
	user, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, email string) (*store.User, error) {
	query, args, err := psql.Select(userColumns...).
		From("users").
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, err
	}
	user, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func scanUser(row *sql.Row) (*store.User, error) {
	var createdAt time.Time
	var updatedAt time.Time
	user := store.User{}
	if err := row.Scan(&user.Email, &user.UTMRules, &user.LinkedInOrganization, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	user.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &user, nil
}

func (p *PostgresStore) SetUTMRules(ctx context.Context, email string, rules string) error {
	return p.updateUser(ctx, email, "utm_rules", rules)
}

func (p *PostgresStore) SetLinkedInOrganization(ctx context.Context, email string, organization string) error {
	return p.updateUser(ctx, email, "linkedin_organization", strings.TrimSpace(organization))
}

func (p *PostgresStore) updateUser(ctx context.Context, email string, column string, value string) error {
	query, args, err := psql.Update("users").
		Set(column, value).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) UpsertCredential(ctx context.Context, credential store.Credential) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if credential.CreatedAt == "" {
		credential.CreatedAt = now
	}
	if credential.UpdatedAt == "" {
		credential.UpdatedAt = now
	}
	query, args, err := psql.Insert("credentials").
		Columns("user_email", "platform", "secret", "created_at", "updated_at").
		Values(
			credential.UserEmail,
			credential.Platform,
			credential.Secret,
			parseTimestampValue(credential.CreatedAt),
			parseTimestampValue(credential.UpdatedAt),
		).
		Suffix("ON CONFLICT (user_email, platform) DO UPDATE SET secret = EXCLUDED.secret, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *PostgresStore) GetCredential(ctx context.Context, email string, platform string) (*store.Credential, error) {
	query, args, err := psql.Select("user_email", "platform", "secret", "created_at", "updated_at").
		From("credentials").
		Where(sq.Eq{"user_email": email}).
		Where(sq.Eq{"platform": platform}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var createdAt time.Time
	var updatedAt time.Time
	credential := store.Credential{}
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(
		&credential.UserEmail,
		&credential.Platform,
		&credential.Secret,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	credential.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	credential.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &credential, nil
}

func (p *PostgresStore) DeleteCredential(ctx context.Context, email string, platform string) error {
	query, args, err := psql.Delete("credentials").
		Where(sq.Eq{"user_email": email}).
		Where(sq.Eq{"platform": platform}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *PostgresStore) ListCredentialPlatforms(ctx context.Context, email string) ([]string, error) {
	query, args, err := psql.Select("platform").
		From("credentials").
		Where(sq.Eq{"user_email": email}).
		OrderBy("platform ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	platforms := []string{}
	for rows.Next() {
		var platform string
		if err := rows.Scan(&platform); err != nil {
			return nil, err
		}
		platforms = append(platforms, platform)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return platforms, nil
}

func (p *PostgresStore) CreatePublishJob(ctx context.Context, job store.PublishJob) error {
	status := strings.TrimSpace(job.Status)
	if status == "" {
		status = store.JobStatusQueued
	}
	platforms := job.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	platformsBytes, err := json.Marshal(platforms)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if job.CreatedAt == "" {
		job.CreatedAt = now
	}
	if job.UpdatedAt == "" {
		job.UpdatedAt = job.CreatedAt
	}
	query, args, err := psql.Insert("publish_jobs").
		Columns("id", "user_email", "status", "platforms", "created_at", "updated_at").
		Values(job.ID, job.UserEmail, status, platformsBytes, parseTimestampValue(job.CreatedAt), parseTimestampValue(job.UpdatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *PostgresStore) GetPublishJob(ctx context.Context, jobID string) (*store.PublishJob, error) {
	query, args, err := psql.Select("id", "user_email", "status", "platforms", "created_at", "updated_at").
		From("publish_jobs").
		Where(sq.Eq{"id": jobID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var platformsBytes []byte
	var createdAt time.Time
	var updatedAt time.Time
	job := store.PublishJob{}
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(
		&job.ID,
		&job.UserEmail,
		&job.Status,
		&platformsBytes,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	job.Platforms = decodeStringSlice(platformsBytes)
	job.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	job.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &job, nil
}

func (p *PostgresStore) AppendJobEvent(ctx context.Context, event store.JobEvent) (err error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	insert, args, err := psql.Insert("job_events").
		Columns("job_id", "seq", "type", "timestamp", "source", "trace_id", "payload").
		Values(event.JobID, event.Seq, strings.TrimSpace(event.Type), parseTimestampValue(timestamp), event.Source, traceIDValue(event.TraceID), encoded).
		ToSql()
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insert, args...); err != nil {
		return err
	}
	if status, ok := store.JobStatusFromEvent(event); ok {
		var update string
		update, args, err = psql.Update("publish_jobs").
			Set("status", status).
			Set("updated_at", parseTimestampValue(timestamp)).
			Where(sq.Eq{"id": event.JobID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, update, args...); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (p *PostgresStore) ListJobEvents(ctx context.Context, jobID string, afterSeq int64) ([]store.JobEvent, error) {
	query, args, err := psql.Select("job_id", "seq", "type", "timestamp", "source", "trace_id", "payload").
		From("job_events").
		Where(sq.Eq{"job_id": jobID}).
		Where(sq.Gt{"seq": afterSeq}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.JobEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.JobEvent
		if err := rows.Scan(&event.JobID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		event.Payload = map[string]any{}
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &event.Payload); err != nil {
				return nil, err
			}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextJobSeq(ctx context.Context, jobID string) (int64, error) {
	query, args, err := psql.Insert("job_event_sequences").
		Columns("job_id", "last_seq").
		Values(jobID, 1).
		Suffix("ON CONFLICT (job_id) DO UPDATE SET last_seq = job_event_sequences.last_seq + 1 RETURNING last_seq").
		ToSql()
	if err != nil {
		return 0, err
	}
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

// traceIDValue drops trace ids the uuid column would reject.
func traceIDValue(traceID string) any {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil
	}
	if _, err := uuid.Parse(traceID); err != nil {
		return nil
	}
	return traceID
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	values := []string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
