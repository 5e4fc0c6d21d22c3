package models

import (
	"time"

	"github.com/google/uuid"
)

// ArticleStatus is the publication status of an Article.
type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticleReview    ArticleStatus = "review"
	ArticleScheduled ArticleStatus = "scheduled"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
	ArticleTrash     ArticleStatus = "trash"
)

// Article is an element of the Publish Store.
type Article struct {
	ID               string         `json:"id" validate:"required"`
	Slug             string         `json:"slug" validate:"required,max=200"`
	Title            string         `json:"title" validate:"required"`
	Excerpt          string         `json:"excerpt,omitempty"`
	Content          []ContentBlock `json:"content" validate:"dive"`
	Category         string         `json:"category,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Author           string         `json:"author,omitempty"`
	PublishedAt      time.Time      `json:"publishedAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	CreatedAt        time.Time      `json:"createdAt"`
	HeroImage        string         `json:"heroImage,omitempty"`
	Status           ArticleStatus  `json:"status" validate:"required,oneof=draft review scheduled published archived trash"`
	Views            int64          `json:"views" validate:"gte=0"`
	SourceIncomingID string         `json:"sourceIncomingId,omitempty"`
	PinMain          bool           `json:"pinMain,omitempty"`
	PinCategory      bool           `json:"pinCategory,omitempty"`
}

// NewArticle returns a draft with a fresh id and audit timestamps.
func NewArticle() *Article {
	now := time.Now().UTC()
	return &Article{
		ID:        uuid.NewString(),
		Status:    ArticleDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the article fields.
func (a *Article) Validate() error {
	if err := validateStruct("article "+a.ID, a); err != nil {
		return err
	}
	return checkBlocks(a.Content)
}

// VisibleAt reports whether the public site may show the article at now.
func (a *Article) VisibleAt(now time.Time) bool {
	if a.Status != ArticlePublished && a.Status != ArticleScheduled {
		return false
	}
	return !a.PublishedAt.After(now)
}

// Clone returns a deep copy.
func (a *Article) Clone() Article {
	out := *a
	out.Content = cloneBlocks(a.Content)
	out.Tags = cloneStrings(a.Tags)
	return out
}
