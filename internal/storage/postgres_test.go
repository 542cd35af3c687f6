package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/cbnews/internal/domain"
)

// openTestDB connects to TEST_DATABASE_URL or skips the test.
func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := NewPostgres(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func seedOne(t *testing.T, p *Postgres) domain.PersonDictionaryEntry {
	t.Helper()
	slug := "test-" + uuid.NewString()[:8]
	inactive := false
	data := &SeedData{
		Institutions: []SeedInstitution{{Code: "BOJ", NameJP: "日本銀行", NameEN: "Bank of Japan"}},
		Persons: []SeedPerson{
			{Slug: slug, Institution: "BOJ", NameJP: "植田和男", NameEN: "Kazuo Ueda", Role: "総裁", Aliases: []string{"植田総裁", "植田総裁", " 日銀総裁 "}},
			{Slug: slug + "-retired", Institution: "BOJ", NameJP: "黒田東彦", NameEN: "Haruhiko Kuroda", Active: &inactive},
		},
	}
	if err := p.Seed(context.Background(), data); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	dict, err := p.LoadPersonDictionary(context.Background())
	if err != nil {
		t.Fatalf("LoadPersonDictionary: %v", err)
	}
	entry, ok := dict.BySlug[slug]
	if !ok {
		t.Fatalf("seeded person %s missing from dictionary", slug)
	}
	if _, ok := dict.BySlug[slug+"-retired"]; ok {
		t.Fatalf("inactive person loaded")
	}
	return entry
}

func TestSeedAndLoadDictionary(t *testing.T) {
	p := openTestDB(t)
	entry := seedOne(t, p)

	if entry.Person.InstitutionCode != "BOJ" || entry.Person.InstitutionNameEN != "Bank of Japan" {
		t.Fatalf("person = %+v", entry.Person)
	}
	if len(entry.Aliases) != 2 {
		t.Fatalf("aliases = %v", entry.Aliases)
	}

	// Seeding twice replaces aliases rather than piling them up.
	if err := p.Seed(context.Background(), &SeedData{
		Institutions: []SeedInstitution{{Code: "BOJ", NameJP: "日本銀行", NameEN: "Bank of Japan"}},
		Persons:      []SeedPerson{{Slug: entry.Person.Slug, Institution: "BOJ", NameJP: "植田和男", NameEN: "Kazuo Ueda", Aliases: []string{"植田氏"}}},
	}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	dict, err := p.LoadPersonDictionary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := dict.BySlug[entry.Person.Slug].Aliases; len(got) != 1 || got[0] != "植田氏" {
		t.Fatalf("aliases after reseed = %v", got)
	}
	if dict.AliasToSlug["Kazuo Ueda"] == "" {
		t.Fatalf("names are not indexed as aliases")
	}
}

func draftFor(entry domain.PersonDictionaryEntry, url, hash string) domain.ArticleDraft {
	return domain.ArticleDraft{
		URL:          url,
		SourceDomain: "example.jp",
		Title:        "日銀総裁会見",
		Content:      "本文",
		ContentHash:  hash,
		FetchedAt:    time.Now().UTC(),
		Persons:      []domain.PersonRef{{ID: entry.Person.ID, Slug: entry.Person.Slug}},
	}
}

func TestSaveArticleResultDedup(t *testing.T) {
	p := openTestDB(t)
	entry := seedOne(t, p)
	ctx := context.Background()
	id := uuid.NewString()

	url := "https://Example.jp/news/" + id + "/?utm_source=x#top"
	first, err := p.SaveArticleResult(ctx, domain.SaveArticleInput{Draft: draftFor(entry, url, "hash-"+id), SummaryText: "要約"})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if first.Status != domain.StatusInserted || first.ArticleID == 0 {
		t.Fatalf("first = %+v", first)
	}

	// Same article under a different tracking suffix.
	second, err := p.SaveArticleResult(ctx, domain.SaveArticleInput{Draft: draftFor(entry, "https://example.jp/news/"+id+"?utm_medium=y", "")})
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != domain.StatusDuplicate || second.ArticleID != first.ArticleID {
		t.Fatalf("second = %+v", second)
	}

	// Different URL, same content.
	dup, err := p.IsDuplicateArticle(ctx, "https://mirror.example/"+id, "hash-"+id)
	if err != nil {
		t.Fatal(err)
	}
	if dup == nil || dup.ArticleID != first.ArticleID {
		t.Fatalf("content hash dedup = %+v", dup)
	}

	none, err := p.IsDuplicateArticle(ctx, "https://example.jp/other/"+id, "")
	if err != nil || none != nil {
		t.Fatalf("unexpected duplicate %+v, %v", none, err)
	}

	var summaries, links int
	_ = p.db.QueryRow(`SELECT COUNT(*) FROM summaries WHERE article_id = $1`, first.ArticleID).Scan(&summaries)
	_ = p.db.QueryRow(`SELECT COUNT(*) FROM article_persons WHERE article_id = $1`, first.ArticleID).Scan(&links)
	if summaries != 1 || links != 1 {
		t.Fatalf("summaries = %d, links = %d", summaries, links)
	}
}

func TestSaveArticleResultConcurrentWriters(t *testing.T) {
	p := openTestDB(t)
	entry := seedOne(t, p)
	url := "https://example.jp/race/" + uuid.NewString()

	const writers = 8
	outcomes := make([]domain.SaveOutcome, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = p.SaveArticleResult(context.Background(), domain.SaveArticleInput{Draft: draftFor(entry, url, "")})
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i, o := range outcomes {
		if errs[i] != nil {
			t.Fatalf("writer %d: %v", i, errs[i])
		}
		if o.Status == domain.StatusInserted {
			inserted++
		}
		if o.ArticleID != outcomes[0].ArticleID {
			t.Fatalf("writers disagree on article id: %+v", outcomes)
		}
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
}

func TestJobRunLifecycle(t *testing.T) {
	p := openTestDB(t)
	ctx := context.Background()

	id, err := p.RecordJobStart(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("RecordJobStart: %v", err)
	}
	stats := domain.JobStats{Fetched: 12, Inserted: 3, Deduped: 4, Skipped: 5, Errors: 1}
	if err := p.CompleteJobRun(ctx, id, stats); err != nil {
		t.Fatalf("CompleteJobRun: %v", err)
	}

	runs, err := p.RecentJobRuns(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, run := range runs {
		if run.ID != id {
			continue
		}
		if run.FinishedAt == nil || run.Stats != stats {
			t.Fatalf("run = %+v", run)
		}
		return
	}
	t.Fatalf("run %d not listed", id)
}
