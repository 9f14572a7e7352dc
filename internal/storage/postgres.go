package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

// Postgres persists gatekeeper state in three tables. Schema is created on
// open so a fresh database works without migration tooling.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reputation_records (
			identity TEXT PRIMARY KEY,
			score DOUBLE PRECISION NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			success_count INTEGER NOT NULL DEFAULT 0,
			revocation_count INTEGER NOT NULL DEFAULT 0,
			failed_attestation_count INTEGER NOT NULL DEFAULT 0,
			anomaly_count INTEGER NOT NULL DEFAULT 0,
			tier TEXT NOT NULL,
			trust_level DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS submission_records (
			id BIGSERIAL PRIMARY KEY,
			identity TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			content_hash TEXT NOT NULL,
			rate_limit_warning BOOLEAN NOT NULL DEFAULT FALSE,
			entropy_discrepancy BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS submission_records_identity_idx
			ON submission_records (identity, submitted_at)`,
		`CREATE TABLE IF NOT EXISTS anomaly_entries (
			id BIGSERIAL PRIMARY KEY,
			identity TEXT NOT NULL,
			entry TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS anomaly_entries_identity_idx
			ON anomaly_entries (identity, id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Reputation returns the stored record, or (nil, nil) when absent.
func (p *Postgres) Reputation(ctx context.Context, identity string) (*reputation.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT identity, score, last_updated, success_count, revocation_count,
		       failed_attestation_count, anomaly_count, tier, trust_level
		FROM reputation_records WHERE identity = $1`, identity)

	var rec reputation.Record
	var tier string
	err := row.Scan(&rec.Identity, &rec.Score, &rec.LastUpdated, &rec.SuccessCount,
		&rec.RevocationCount, &rec.FailedAttestationCount, &rec.AnomalyCount,
		&tier, &rec.TrustLevel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reputation: %w", err)
	}
	rec.Tier = reputation.Tier(tier)
	return &rec, nil
}

// SaveReputation upserts the full record.
func (p *Postgres) SaveReputation(ctx context.Context, rec *reputation.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_records
			(identity, score, last_updated, success_count, revocation_count,
			 failed_attestation_count, anomaly_count, tier, trust_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity) DO UPDATE SET
			score = EXCLUDED.score,
			last_updated = EXCLUDED.last_updated,
			success_count = EXCLUDED.success_count,
			revocation_count = EXCLUDED.revocation_count,
			failed_attestation_count = EXCLUDED.failed_attestation_count,
			anomaly_count = EXCLUDED.anomaly_count,
			tier = EXCLUDED.tier,
			trust_level = EXCLUDED.trust_level`,
		rec.Identity, rec.Score, rec.LastUpdated, rec.SuccessCount,
		rec.RevocationCount, rec.FailedAttestationCount, rec.AnomalyCount,
		string(rec.Tier), rec.TrustLevel)
	if err != nil {
		return fmt.Errorf("save reputation: %w", err)
	}
	return nil
}

// Submissions returns the identity's stored records, oldest first.
func (p *Postgres) Submissions(ctx context.Context, identity string) ([]ratelimit.SubmissionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT identity, submitted_at, content_hash, rate_limit_warning, entropy_discrepancy
		FROM submission_records WHERE identity = $1 ORDER BY submitted_at`, identity)
	if err != nil {
		return nil, fmt.Errorf("read submissions: %w", err)
	}
	defer rows.Close()

	var out []ratelimit.SubmissionRecord
	for rows.Next() {
		var rec ratelimit.SubmissionRecord
		if err := rows.Scan(&rec.Identity, &rec.Timestamp, &rec.ContentHash,
			&rec.RateLimitWarning, &rec.EntropyDiscrepancy); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendSubmission appends one record.
func (p *Postgres) AppendSubmission(ctx context.Context, rec ratelimit.SubmissionRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO submission_records
			(identity, submitted_at, content_hash, rate_limit_warning, entropy_discrepancy)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Identity, rec.Timestamp, rec.ContentHash, rec.RateLimitWarning, rec.EntropyDiscrepancy)
	if err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

// AnomalyEntries returns the identity's entries, oldest first.
func (p *Postgres) AnomalyEntries(ctx context.Context, identity string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entry FROM anomaly_entries WHERE identity = $1 ORDER BY id`, identity)
	if err != nil {
		return nil, fmt.Errorf("read anomalies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// AppendAnomaly appends one entry.
func (p *Postgres) AppendAnomaly(ctx context.Context, identity, entry string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO anomaly_entries (identity, entry) VALUES ($1, $2)`, identity, entry)
	if err != nil {
		return fmt.Errorf("append anomaly: %w", err)
	}
	return nil
}
