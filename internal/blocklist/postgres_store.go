package blocklist

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed block store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, subjectKey string) (*BlockRecord, error) {
	record := &BlockRecord{}
	var expiresAt sql.NullTime
	var countryCode sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT subject_key, reason, is_permanent, block_expires_at, country_code,
		       created_at, updated_at
		FROM blocks
		WHERE subject_key = $1
	`, subjectKey).Scan(
		&record.SubjectKey, &record.Reason, &record.IsPermanent,
		&expiresAt, &countryCode, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get block record: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		record.ExpiresAt = &t
	}
	if countryCode.Valid {
		record.CountryCode = countryCode.String
	}
	return record, nil
}

func (p *PostgresStore) Put(ctx context.Context, record *BlockRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blocks (subject_key, reason, is_permanent, block_expires_at,
			country_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (subject_key) DO UPDATE SET
			reason = EXCLUDED.reason,
			is_permanent = EXCLUDED.is_permanent,
			block_expires_at = EXCLUDED.block_expires_at,
			country_code = EXCLUDED.country_code,
			updated_at = NOW()
	`,
		record.SubjectKey, record.Reason, record.IsPermanent,
		nullTime(record.ExpiresAt), nullString(record.CountryCode),
	)
	if err != nil {
		return fmt.Errorf("put block record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, subjectKey string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE subject_key = $1
	`, subjectKey)
	if err != nil {
		return fmt.Errorf("delete block record: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*BlockRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT subject_key, reason, is_permanent, block_expires_at, country_code,
		       created_at, updated_at
		FROM blocks
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list block records: %w", err)
	}
	defer rows.Close()

	var result []*BlockRecord
	for rows.Next() {
		record := &BlockRecord{}
		var expiresAt sql.NullTime
		var countryCode sql.NullString
		if err := rows.Scan(
			&record.SubjectKey, &record.Reason, &record.IsPermanent,
			&expiresAt, &countryCode, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan block record: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			record.ExpiresAt = &t
		}
		if countryCode.Valid {
			record.CountryCode = countryCode.String
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM blocks
		WHERE is_permanent = FALSE
		  AND (block_expires_at IS NULL OR block_expires_at <= $1)
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired blocks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted blocks: %w", err)
	}
	return int(n), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
