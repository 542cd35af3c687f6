package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPersonDictionaryIndexesNamesAndAliases(t *testing.T) {
	t.Parallel()

	d := NewPersonDictionary()
	d.Add(PersonDictionaryEntry{
		Person:  Person{ID: 1, Slug: "kazuo-ueda", NameJP: "植田和男", NameEN: "Kazuo Ueda", InstitutionCode: "BOJ"},
		Aliases: []string{"植田総裁"},
	})

	for _, key := range []string{"植田和男", "Kazuo Ueda", "植田総裁"} {
		if d.AliasToSlug[key] != "kazuo-ueda" {
			t.Errorf("AliasToSlug[%q] = %q", key, d.AliasToSlug[key])
		}
	}
	if len(d.Entries()) != 1 {
		t.Fatalf("entries = %d", len(d.Entries()))
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	inner := NewError(CodeRSSHTTPError, "status 503", map[string]any{"status": 503}, nil)
	wrapped := fmt.Errorf("failed after 3 attempts: %w", inner)

	if got := CodeOf(wrapped, CodePersonFetchFailed); got != CodeRSSHTTPError {
		t.Fatalf("CodeOf = %s", got)
	}
	if got := CodeOf(errors.New("plain"), CodeArticleProcessFailed); got != CodeArticleProcessFailed {
		t.Fatalf("fallback = %s", got)
	}
	if DetailsOf(wrapped)["status"] != 503 {
		t.Fatalf("details lost: %v", DetailsOf(wrapped))
	}
}
