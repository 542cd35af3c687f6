package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/resolver"
	"github.com/deusflow/cbnews/internal/scraper"
	"github.com/deusflow/cbnews/internal/textutil"
	"github.com/deusflow/cbnews/internal/urlnorm"
)

// Skip reasons logged with ingest.article.skipped.
const (
	ReasonInsufficientContent  = "insufficient_content"
	ReasonInsufficientMentions = "insufficient_mentions"
)

type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) resolver.Result
}

type ContentExtractor interface {
	Extract(ctx context.Context, rawURL string) *scraper.Extraction
}

// ScoringPolicy weighs name mentions. An article is kept when its score
// reaches Threshold.
type ScoringPolicy struct {
	PrimaryWeight int
	AliasWeight   int
	Threshold     int
}

func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{PrimaryWeight: 2, AliasWeight: 1, Threshold: 2}
}

// MentionScore sums occurrences times weight over the person's distinct
// normalized terms. A term listed both as a name and an alias keeps the
// higher weight.
func (sp ScoringPolicy) MentionScore(normalizedText string, entry domain.PersonDictionaryEntry) int {
	terms := make(map[string]int)
	add := func(term string, weight int) {
		key := textutil.NormalizeForMatch(term)
		if key == "" {
			return
		}
		if weight > terms[key] {
			terms[key] = weight
		}
	}

	add(entry.Person.NameJP, sp.PrimaryWeight)
	add(entry.Person.NameEN, sp.PrimaryWeight)
	for _, alias := range entry.Aliases {
		add(alias, sp.AliasWeight)
	}

	score := 0
	for term, weight := range terms {
		score += textutil.CountOccurrences(normalizedText, term) * weight
	}
	return score
}

// ContentHash is the hex sha256 of already normalized text.
func ContentHash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// Processor turns a feed candidate into a persistence-ready article or rejects it.
type Processor struct {
	resolver  URLResolver
	extractor ContentExtractor
	policy    ScoringPolicy
	log       *slog.Logger
	onResolve func(method string)
}

func NewProcessor(res URLResolver, ext ContentExtractor, policy ScoringPolicy, log *slog.Logger) *Processor {
	if policy.Threshold < 1 {
		policy.Threshold = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{resolver: res, extractor: ext, policy: policy, log: log}
}

// OnResolve registers a hook that observes which resolver stage answered.
func (p *Processor) OnResolve(fn func(method string)) {
	p.onResolve = fn
}

// Process returns nil, nil when the candidate is rejected.
func (p *Processor) Process(ctx context.Context, c domain.Candidate, entry domain.PersonDictionaryEntry) (*domain.ProcessedArticle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := entry.Person.Slug

	resolution := p.resolver.Resolve(ctx, c.URL)
	resolvedURL := resolution.URL
	if resolvedURL == "" {
		resolvedURL = c.URL
	}
	if p.onResolve != nil {
		p.onResolve(string(resolution.Method))
	}

	var text, image string
	if extraction := p.extractor.Extract(ctx, resolvedURL); extraction != nil {
		text = extraction.Content
		if text == "" {
			text = extraction.Text
		}
		image = extraction.ImageURL
	}
	if text == "" {
		text = c.Description
	}
	if text == "" {
		text = c.Content
	}
	if image == "" {
		image = c.ImageURL
	}

	cleaned := textutil.CollapseWhitespace(text)
	if !textutil.HasSufficientContent(cleaned) {
		p.log.Info("ingest.article.skipped",
			"slug", slug,
			"reason", ReasonInsufficientContent,
			"threshold", p.policy.Threshold,
			"url", resolvedURL,
		)
		return nil, nil
	}

	normalized := textutil.NormalizeForMatch(cleaned)
	score := p.policy.MentionScore(normalized, entry)
	if score < p.policy.Threshold {
		p.log.Info("ingest.article.skipped",
			"slug", slug,
			"reason", ReasonInsufficientMentions,
			"score", score,
			"threshold", p.policy.Threshold,
			"url", resolvedURL,
		)
		return nil, nil
	}

	sourceDomain := urlnorm.Host(resolvedURL)
	if sourceDomain == "" {
		sourceDomain = c.SourceDomain
	}
	fetchedAt := c.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	person := entry.Person
	return &domain.ProcessedArticle{
		Draft: domain.ArticleDraft{
			URL:          resolvedURL,
			SourceDomain: sourceDomain,
			Title:        c.Title,
			Description:  c.Description,
			Content:      cleaned,
			ContentHash:  ContentHash(normalized),
			ImageURL:     image,
			PublishedAt:  c.PublishedAt,
			FetchedAt:    fetchedAt,
			Persons:      []domain.PersonRef{{ID: person.ID, Slug: person.Slug}},
		},
		SummaryInput: domain.SummaryInput{
			Title:   c.Title,
			Content: cleaned,
			URL:     resolvedURL,
			Persons: []domain.SummaryPerson{{
				Slug:            person.Slug,
				NameJP:          person.NameJP,
				NameEN:          person.NameEN,
				InstitutionCode: person.InstitutionCode,
			}},
		},
	}, nil
}
