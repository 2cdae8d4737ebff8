// Package testutil provides deterministic helpers and mapping fixtures
// shared by package tests.
package testutil

import (
	"testing"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/mapping"
)

// ArticleMapping returns the article/tag mapping used across tests:
//   - article.tags / tag.articles, tracked, carrying created_date
//   - article.view_tags, view-only over a second table
//   - article.categories, excluded because category is not versioned
//   - article.references / article.cited_by, self-referential
func ArticleMapping() *mapping.Config {
	return &mapping.Config{
		Entities: []mapping.Entity{
			{Name: "article", Versioned: true},
			{Name: "tag", Versioned: true},
			{Name: "category"},
		},
		Relationships: []mapping.Relationship{
			{
				Table: "article_tag", Left: "article", Right: "tag",
				LeftColumn: "article_id", RightColumn: "tag_id",
				Forward: "tags", Backward: "articles",
				Carried: []mapping.CarriedColumn{{Name: "created_date", Type: mapping.TypeTimestamp}},
			},
			{
				Table: "article_tag_view", Left: "article", Right: "tag",
				LeftColumn: "article_id", RightColumn: "tag_id",
				Forward: "view_tags", ViewOnly: true,
			},
			{
				Table: "article_category", Left: "article", Right: "category",
				LeftColumn: "article_id", RightColumn: "category_id",
				Forward: "categories",
			},
			{
				Table: "article_reference", Left: "article", Right: "article",
				LeftColumn: "referring_id", RightColumn: "referred_id",
				Forward: "references", Backward: "cited_by",
			},
		},
	}
}

// NamespacedMapping declares article/tag twice, in the default namespace
// and in "other", with identically named association tables.
func NamespacedMapping() *mapping.Config {
	return &mapping.Config{
		Entities: []mapping.Entity{
			{Name: "article", Versioned: true},
			{Name: "tag", Versioned: true},
			{Name: "article", Namespace: "other", Versioned: true},
			{Name: "tag", Namespace: "other", Versioned: true},
		},
		Relationships: []mapping.Relationship{
			{
				Table: "article_tag", Left: "article", Right: "tag",
				LeftColumn: "article_id", RightColumn: "tag_id",
				Forward: "tags", Backward: "articles",
			},
			{
				Table: "article_tag", Namespace: "other", Left: "other.article", Right: "other.tag",
				LeftColumn: "article_id", RightColumn: "tag_id",
				Forward: "tags", Backward: "articles",
			},
		},
	}
}

// MustRegistry builds a registry or fails the test.
func MustRegistry(t testing.TB, cfg *mapping.Config) *descriptor.Registry {
	t.Helper()
	reg, err := descriptor.Build(cfg)
	if err != nil {
		t.Fatalf("descriptor.Build() failed: %v", err)
	}
	return reg
}
