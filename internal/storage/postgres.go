// Package storage persists persons, articles, summaries and job runs in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/deusflow/cbnews/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres is the gateway every ingest stage writes through.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgres connects, pings and makes sure the schema exists.
func NewPostgres(ctx context.Context, connectionString string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := NewPostgresFromDB(db, log)
	if err := p.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	p.log.Info("storage.connected")
	return p, nil
}

func NewPostgresFromDB(db *sql.DB, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{db: db, log: log}
}

// InitSchema creates the tables if they don't exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS institutions (
		id BIGSERIAL PRIMARY KEY,
		code VARCHAR(16) UNIQUE NOT NULL,
		name_jp TEXT NOT NULL,
		name_en TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS persons (
		id BIGSERIAL PRIMARY KEY,
		institution_id BIGINT NOT NULL REFERENCES institutions(id),
		slug VARCHAR(128) UNIQUE NOT NULL,
		name_jp TEXT NOT NULL,
		name_en TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS aliases (
		id BIGSERIAL PRIMARY KEY,
		person_id BIGINT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		UNIQUE (person_id, text)
	);

	CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		url_original TEXT NOT NULL,
		url_normalized TEXT UNIQUE NOT NULL,
		content_hash VARCHAR(64) UNIQUE,
		source_domain TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT,
		content TEXT,
		image_url TEXT,
		published_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);

	CREATE TABLE IF NOT EXISTS summaries (
		id BIGSERIAL PRIMARY KEY,
		article_id BIGINT UNIQUE NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS article_persons (
		article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		person_id BIGINT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
		PRIMARY KEY (article_id, person_id)
	);

	CREATE INDEX IF NOT EXISTS idx_article_persons_person ON article_persons(person_id);

	CREATE TABLE IF NOT EXISTS ingest_job_runs (
		id BIGSERIAL PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		fetched INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0,
		deduped INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_job_runs_started_at ON ingest_job_runs(started_at);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadPersonDictionary snapshots every active person, ordered by institution
// code then slug, with all of their aliases.
func (p *Postgres) LoadPersonDictionary(ctx context.Context) (*domain.PersonDictionary, error) {
	query, args, err := psql.
		Select("p.id", "p.slug", "p.name_jp", "p.name_en", "p.role", "p.active", "i.code", "i.name_jp", "i.name_en").
		From("persons p").
		Join("institutions i ON i.id = p.institution_id").
		Where(sq.Eq{"p.active": true}).
		OrderBy("i.code ASC", "p.slug ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build persons query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var persons []domain.Person
	for rows.Next() {
		var person domain.Person
		if err := rows.Scan(&person.ID, &person.Slug, &person.NameJP, &person.NameEN, &person.Role, &person.Active,
			&person.InstitutionCode, &person.InstitutionNameJP, &person.InstitutionNameEN); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	aliases, err := p.aliasesByPerson(ctx)
	if err != nil {
		return nil, err
	}

	dict := domain.NewPersonDictionary()
	for _, person := range persons {
		dict.Add(domain.PersonDictionaryEntry{Person: person, Aliases: aliases[person.ID]})
	}
	return dict, nil
}

func (p *Postgres) aliasesByPerson(ctx context.Context) (map[int64][]string, error) {
	query, args, err := psql.Select("person_id", "text").From("aliases").OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aliases query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var personID int64
		var text string
		if err := rows.Scan(&personID, &text); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out[personID] = append(out[personID], text)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordJobStart(ctx context.Context, startedAt time.Time) (int64, error) {
	query, args, err := psql.Insert("ingest_job_runs").
		Columns("started_at").
		Values(startedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build job start: %w", err)
	}

	var id int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("record job start: %w", err)
	}
	return id, nil
}

func (p *Postgres) CompleteJobRun(ctx context.Context, id int64, stats domain.JobStats) error {
	query, args, err := psql.Update("ingest_job_runs").
		Set("finished_at", sq.Expr("NOW()")).
		Set("fetched", stats.Fetched).
		Set("inserted", stats.Inserted).
		Set("deduped", stats.Deduped).
		Set("skipped", stats.Skipped).
		Set("errors", stats.Errors).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job completion: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete job run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job run %d not found", id)
	}
	return nil
}

// RecentJobRuns returns the latest runs, newest first.
func (p *Postgres) RecentJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query, args, err := psql.
		Select("id", "started_at", "finished_at", "fetched", "inserted", "deduped", "skipped", "errors").
		From("ingest_job_runs").
		OrderBy("started_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job runs query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		var run domain.JobRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished,
			&run.Stats.Fetched, &run.Stats.Inserted, &run.Stats.Deduped, &run.Stats.Skipped, &run.Stats.Errors); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
