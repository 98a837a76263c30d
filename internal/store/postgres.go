package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/postgres"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/resilience"
)

const questionsSchema = `
CREATE TABLE IF NOT EXISTS questions (
    id                 TEXT PRIMARY KEY,
    raw_text           TEXT NOT NULL,
    text               TEXT NOT NULL,
    mp                 TEXT NOT NULL DEFAULT '',
    minister           TEXT NOT NULL DEFAULT '',
    session            TEXT NOT NULL DEFAULT '',
    constituency       TEXT NOT NULL DEFAULT '',
    chiefdom           TEXT NOT NULL DEFAULT '',
    district           TEXT NOT NULL DEFAULT '',
    ward               TEXT NOT NULL DEFAULT '',
    year               INTEGER NOT NULL,
    asked_date         TIMESTAMPTZ,
    kind               TEXT NOT NULL,
    kind_confidence    DOUBLE PRECISION NOT NULL,
    subject            TEXT NOT NULL,
    subject_confidence DOUBLE PRECISION NOT NULL,
    artifact_version   TEXT NOT NULL DEFAULT '',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_questions_year ON questions (year);
CREATE INDEX IF NOT EXISTS idx_questions_mp ON questions (mp);
`

// PostgresStore is the durable layer backed by PostgreSQL. Labels are
// stored inline with the record, so an upsert replaces the previous
// classification atomically.
type PostgresStore struct {
	client *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewPostgresStore wraps an existing client and ensures the schema exists.
func NewPostgresStore(ctx context.Context, client *postgres.Client) (*PostgresStore, error) {
	p := &PostgresStore{
		client: client,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		logger: slog.Default().With("component", "postgres-store"),
	}
	if _, err := client.DB.ExecContext(ctx, questionsSchema); err != nil {
		return nil, fmt.Errorf("ensuring questions schema: %w", err)
	}
	return p, nil
}

const upsertQuestionSQL = `
INSERT INTO questions (
    id, raw_text, text, mp, minister, session, constituency, chiefdom,
    district, ward, year, asked_date, kind, kind_confidence, subject,
    subject_confidence, artifact_version, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
ON CONFLICT (id) DO UPDATE SET
    raw_text = EXCLUDED.raw_text,
    text = EXCLUDED.text,
    mp = EXCLUDED.mp,
    minister = EXCLUDED.minister,
    session = EXCLUDED.session,
    constituency = EXCLUDED.constituency,
    chiefdom = EXCLUDED.chiefdom,
    district = EXCLUDED.district,
    ward = EXCLUDED.ward,
    year = EXCLUDED.year,
    asked_date = EXCLUDED.asked_date,
    kind = EXCLUDED.kind,
    kind_confidence = EXCLUDED.kind_confidence,
    subject = EXCLUDED.subject,
    subject_confidence = EXCLUDED.subject_confidence,
    artifact_version = EXCLUDED.artifact_version,
    updated_at = now()
`

// UpsertQuestion writes a question row, replacing any previous version.
func (p *PostgresStore) UpsertQuestion(ctx context.Context, q *question.Question) error {
	var askedDate sql.NullTime
	if !q.Date.IsZero() {
		askedDate = sql.NullTime{Time: q.Date, Valid: true}
	}
	return resilience.Retry(ctx, "pg-upsert-question", p.retry, func() error {
		_, err := p.client.DB.ExecContext(ctx, upsertQuestionSQL,
			q.ID, q.RawText, q.Text, q.MP, q.Minister, q.Session,
			q.Constituency, q.Chiefdom, q.District, q.Ward, q.Year, askedDate,
			string(q.Label.Kind), q.Label.KindConfidence,
			q.Label.Subject, q.Label.SubjectConfidence,
			q.Label.ArtifactVersion,
		)
		return err
	})
}

// DeleteQuestion removes a question row. Deleting an absent id is not an
// error here; the in-memory store decides what absence means.
func (p *PostgresStore) DeleteQuestion(ctx context.Context, id string) error {
	return resilience.Retry(ctx, "pg-delete-question", p.retry, func() error {
		_, err := p.client.DB.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
		return err
	})
}

// LoadQuestions streams every persisted question into fn, ordered by id.
func (p *PostgresStore) LoadQuestions(ctx context.Context, fn func(q *question.Question) error) error {
	rows, err := p.client.DB.QueryContext(ctx, `
		SELECT id, raw_text, text, mp, minister, session, constituency,
		       chiefdom, district, ward, year, asked_date, kind,
		       kind_confidence, subject, subject_confidence, artifact_version
		FROM questions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q question.Question
		var askedDate sql.NullTime
		var kind string
		if err := rows.Scan(
			&q.ID, &q.RawText, &q.Text, &q.MP, &q.Minister, &q.Session,
			&q.Constituency, &q.Chiefdom, &q.District, &q.Ward, &q.Year,
			&askedDate, &kind, &q.Label.KindConfidence,
			&q.Label.Subject, &q.Label.SubjectConfidence,
			&q.Label.ArtifactVersion,
		); err != nil {
			return fmt.Errorf("scanning question row: %w", err)
		}
		q.Label.Kind = question.Kind(kind)
		if askedDate.Valid {
			q.Date = askedDate.Time
		}
		if err := fn(&q); err != nil {
			return err
		}
	}
	return rows.Err()
}
