package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const (
	examsTable = "exams"
	notesTable = "notes"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS exams (
		id            uuid PRIMARY KEY,
		owner_id      text NOT NULL,
		patient_id    text NOT NULL,
		title         text NOT NULL,
		exam_date     date,
		category      text NOT NULL DEFAULT '',
		observations  text NOT NULL DEFAULT '',
		results       jsonb NOT NULL DEFAULT '{}'::jsonb,
		attachments   jsonb NOT NULL DEFAULT '[]'::jsonb,
		created_at    timestamptz NOT NULL,
		last_modified timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS exams_owner_patient_idx ON exams (owner_id, patient_id, exam_date DESC)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id                uuid PRIMARY KEY,
		owner_id          text NOT NULL,
		patient_id        text NOT NULL,
		note_title        text NOT NULL,
		note_text         text NOT NULL,
		note_type         text NOT NULL,
		category          text NOT NULL,
		consultation_date date,
		exame_id          uuid NOT NULL REFERENCES exams (id) ON DELETE CASCADE,
		created_at        timestamptz NOT NULL,
		last_modified     timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notes_exame_id_key ON notes (exame_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS exams (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		patient_id    TEXT NOT NULL,
		title         TEXT NOT NULL,
		exam_date     DATE,
		category      TEXT NOT NULL DEFAULT '',
		observations  TEXT NOT NULL DEFAULT '',
		results       TEXT NOT NULL DEFAULT '{}',
		attachments   TEXT NOT NULL DEFAULT '[]',
		created_at    DATETIME NOT NULL,
		last_modified DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS exams_owner_patient_idx ON exams (owner_id, patient_id, exam_date DESC)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id                TEXT PRIMARY KEY,
		owner_id          TEXT NOT NULL,
		patient_id        TEXT NOT NULL,
		note_title        TEXT NOT NULL,
		note_text         TEXT NOT NULL,
		note_type         TEXT NOT NULL,
		category          TEXT NOT NULL,
		consultation_date DATE,
		exame_id          TEXT NOT NULL REFERENCES exams (id) ON DELETE CASCADE,
		created_at        DATETIME NOT NULL,
		last_modified     DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notes_exame_id_key ON notes (exame_id)`,
}

// Migrate creates the exams and notes tables for the driver's dialect. It is safe to run repeatedly.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	var stmts []string
	switch drv.Dialect() {
	case dialect.Postgres:
		stmts = postgresSchema
	case dialect.SQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", drv.Dialect())
	}
	for _, stmt := range stmts {
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			logger.Error("schema migration failed", "dialect", drv.Dialect(), "error", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("schema up to date", "dialect", drv.Dialect(), "statements", len(stmts))
	return nil
}
