package signals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed signal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) AppendFingerprint(ctx context.Context, record *FingerprintRecord) error {
	signals, err := json.Marshal(record.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO device_signals (id, device_hash, session_id, user_id, client_ip,
			signals, collected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID, record.DeviceHash, record.SessionID,
		nullString(record.UserID), nullString(record.ClientIP),
		signals, record.CollectedAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint record: %w", err)
	}
	return nil
}

func (p *PostgresStore) AppendBiometrics(ctx context.Context, record *BiometricsRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO biometrics_samples (id, session_id, user_id, client_ip,
			mouse_events, click_events, movement_uniformity,
			click_interval_variance, idle_ratio, bot_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		record.ID, record.SessionID,
		nullString(record.UserID), nullString(record.ClientIP),
		record.TotalMouseEvents, record.TotalClickEvents, record.MovementUniformity,
		record.ClickIntervalVariance, record.IdleRatio, record.BotLikelihoodScore,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert biometrics record: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListByDevice(ctx context.Context, deviceHash string, limit int) ([]*FingerprintRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, device_hash, session_id, user_id, client_ip, signals,
		       collected_at, created_at
		FROM device_signals
		WHERE device_hash = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, deviceHash, limit)
	if err != nil {
		return nil, fmt.Errorf("list device signals: %w", err)
	}
	defer rows.Close()

	var result []*FingerprintRecord
	for rows.Next() {
		record := &FingerprintRecord{}
		var userID, clientIP sql.NullString
		var signals []byte
		if err := rows.Scan(
			&record.ID, &record.DeviceHash, &record.SessionID,
			&userID, &clientIP, &signals,
			&record.CollectedAt, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fingerprint record: %w", err)
		}
		record.UserID = userID.String
		record.ClientIP = clientIP.String
		if len(signals) > 0 {
			if err := json.Unmarshal(signals, &record.Signals); err != nil {
				return nil, fmt.Errorf("unmarshal signals: %w", err)
			}
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DeviceIPs(ctx context.Context, deviceHash string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT client_ip
		FROM device_signals
		WHERE device_hash = $1 AND client_ip IS NOT NULL
		LIMIT $2
	`, deviceHash, limit)
	if err != nil {
		return nil, fmt.Errorf("list device ips: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan device ip: %w", err)
		}
		result = append(result, ip)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
