// Package domain holds the records passed between ingestion stages.
package domain

import (
	"time"
)

type Person struct {
	ID                int64
	Slug              string
	NameJP            string
	NameEN            string
	Role              string
	Active            bool
	InstitutionCode   string
	InstitutionNameJP string
	InstitutionNameEN string
}

// PersonDictionaryEntry is a tracked official with every alias they are known by.
type PersonDictionaryEntry struct {
	Person  Person
	Aliases []string
}

// PersonDictionary is a read-only snapshot taken once per job run.
type PersonDictionary struct {
	BySlug      map[string]PersonDictionaryEntry
	AliasToSlug map[string]string
	Order       []string // slugs ordered by institution code, then slug
}

func NewPersonDictionary() *PersonDictionary {
	return &PersonDictionary{
		BySlug:      make(map[string]PersonDictionaryEntry),
		AliasToSlug: make(map[string]string),
	}
}

// Add indexes entry by slug, its aliases and both of its names.
func (d *PersonDictionary) Add(entry PersonDictionaryEntry) {
	slug := entry.Person.Slug
	if _, exists := d.BySlug[slug]; !exists {
		d.Order = append(d.Order, slug)
	}
	d.BySlug[slug] = entry
	for _, alias := range entry.Aliases {
		d.AliasToSlug[alias] = slug
	}
	d.AliasToSlug[entry.Person.NameJP] = slug
	d.AliasToSlug[entry.Person.NameEN] = slug
}

// Entries returns entries in dictionary order.
func (d *PersonDictionary) Entries() []PersonDictionaryEntry {
	out := make([]PersonDictionaryEntry, 0, len(d.Order))
	for _, slug := range d.Order {
		out = append(out, d.BySlug[slug])
	}
	return out
}

// Candidate is one raw feed entry before resolution, extraction or scoring.
type Candidate struct {
	URL          string
	SourceDomain string
	Title        string
	Description  string
	ImageURL     string
	Content      string
	PublishedAt  *time.Time
	FetchedAt    time.Time
	Raw          any
}

type PersonRef struct {
	ID   int64
	Slug string
}

// ArticleDraft is a persistence-ready article. It never carries a summary.
type ArticleDraft struct {
	URL          string
	SourceDomain string
	Title        string
	Description  string
	Content      string
	ContentHash  string
	ImageURL     string
	PublishedAt  *time.Time
	FetchedAt    time.Time
	Persons      []PersonRef
}

type SummaryPerson struct {
	Slug            string
	NameJP          string
	NameEN          string
	InstitutionCode string
}

type SummaryInput struct {
	Title   string
	Content string
	URL     string
	Persons []SummaryPerson
}

type ProcessedArticle struct {
	Draft        ArticleDraft
	SummaryInput SummaryInput
}

type SaveArticleInput struct {
	Draft       ArticleDraft
	SummaryText string
}

type SaveStatus string

const (
	StatusInserted  SaveStatus = "inserted"
	StatusDuplicate SaveStatus = "duplicate"
)

type SaveOutcome struct {
	Status    SaveStatus
	ArticleID int64
}

// Duplicate identifies an already persisted article matching a dedup key.
type Duplicate struct {
	ArticleID int64
}

type JobStats struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Deduped  int `json:"deduped"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

type JobRun struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Stats      JobStats
}

// ArticleEvent announces a newly inserted article to downstream consumers.
type ArticleEvent struct {
	ArticleID    int64      `json:"article_id"`
	RunID        string     `json:"run_id"`
	URL          string     `json:"url"`
	SourceDomain string     `json:"source_domain"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	ImageURL     string     `json:"image_url,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Persons      []string   `json:"persons"`
}
