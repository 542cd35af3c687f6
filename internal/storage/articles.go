package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/urlnorm"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsDuplicateArticle reports the stored article whose normalized URL or, when
// contentHash is set, whose content hash matches. It returns nil when none does.
func (p *Postgres) IsDuplicateArticle(ctx context.Context, rawURL, contentHash string) (*domain.Duplicate, error) {
	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("normalize url: %w", err)
	}
	return findDuplicate(ctx, p.db, normalized, contentHash)
}

func findDuplicate(ctx context.Context, q queryer, normalizedURL, contentHash string) (*domain.Duplicate, error) {
	match := sq.Or{sq.Eq{"url_normalized": normalizedURL}}
	if contentHash != "" {
		match = append(match, sq.Eq{"content_hash": contentHash})
	}

	query, args, err := psql.Select("id").From("articles").Where(match).OrderBy("id ASC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build duplicate query: %w", err)
	}

	var id int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query duplicate: %w", err)
	}
	return &domain.Duplicate{ArticleID: id}, nil
}

// SaveArticleResult stores the article with its summary and person links in
// one transaction. When a concurrent writer wins the unique constraint race the
// existing article is reported as a duplicate instead of failing.
func (p *Postgres) SaveArticleResult(ctx context.Context, in domain.SaveArticleInput) (domain.SaveOutcome, error) {
	draft := in.Draft
	normalized, err := urlnorm.Normalize(draft.URL)
	if err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("normalize url: %w", err)
	}

	dup, err := findDuplicate(ctx, p.db, normalized, draft.ContentHash)
	if err != nil {
		return domain.SaveOutcome{}, err
	}
	if dup != nil {
		return domain.SaveOutcome{Status: domain.StatusDuplicate, ArticleID: dup.ArticleID}, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, inserted, err := insertArticle(ctx, tx, draft, normalized)
	if err != nil {
		return domain.SaveOutcome{}, err
	}
	if !inserted {
		_ = tx.Rollback()
		winner, err := findDuplicate(ctx, p.db, normalized, draft.ContentHash)
		if err != nil {
			return domain.SaveOutcome{}, err
		}
		if winner == nil {
			return domain.SaveOutcome{}, fmt.Errorf("article %s conflicted but no existing row was found", normalized)
		}
		p.log.Debug("storage.article.race-lost", "url", normalized, "article_id", winner.ArticleID)
		return domain.SaveOutcome{Status: domain.StatusDuplicate, ArticleID: winner.ArticleID}, nil
	}

	if in.SummaryText != "" {
		if err := upsertSummary(ctx, tx, id, in.SummaryText); err != nil {
			return domain.SaveOutcome{}, err
		}
	}
	if err := replacePersonLinks(ctx, tx, id, draft.Persons); err != nil {
		return domain.SaveOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("commit article: %w", err)
	}
	return domain.SaveOutcome{Status: domain.StatusInserted, ArticleID: id}, nil
}

func insertArticle(ctx context.Context, tx *sql.Tx, d domain.ArticleDraft, normalized string) (int64, bool, error) {
	query, args, err := psql.Insert("articles").
		Columns("url_original", "url_normalized", "content_hash", "source_domain", "title",
			"description", "content", "image_url", "published_at", "fetched_at").
		Values(d.URL, normalized, nullString(d.ContentHash), d.SourceDomain, d.Title,
			nullString(d.Description), nullString(d.Content), nullString(d.ImageURL), d.PublishedAt, d.FetchedAt).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build article insert: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	return id, true, nil
}

func upsertSummary(ctx context.Context, tx *sql.Tx, articleID int64, text string) error {
	query, args, err := psql.Insert("summaries").
		Columns("article_id", "text").
		Values(articleID, text).
		Suffix("ON CONFLICT (article_id) DO UPDATE SET text = EXCLUDED.text, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build summary upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// replacePersonLinks makes the article's link set exactly persons.
func replacePersonLinks(ctx context.Context, tx *sql.Tx, articleID int64, persons []domain.PersonRef) error {
	query, args, err := psql.Delete("article_persons").Where(sq.Eq{"article_id": articleID}).ToSql()
	if err != nil {
		return fmt.Errorf("build link delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete person links: %w", err)
	}
	if len(persons) == 0 {
		return nil
	}

	insert := psql.Insert("article_persons").Columns("article_id", "person_id")
	for _, person := range persons {
		insert = insert.Values(articleID, person.ID)
	}
	query, args, err = insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build link insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert person links: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
