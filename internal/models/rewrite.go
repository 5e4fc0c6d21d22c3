package models

import (
	"slices"

	"reddot-watch/newsdesk/internal/apperr"
)

// RewriteResult is the structured candidate article returned by the external
// rewriting capability.
type RewriteResult struct {
	Title      string         `json:"title" validate:"required,max=300"`
	Excerpt    string         `json:"excerpt" validate:"required,max=2000"`
	Category   string         `json:"category" validate:"required"`
	Tags       []string       `json:"tags" validate:"dive,required"`
	Content    []ContentBlock `json:"content" validate:"required,min=1,dive"`
	HeroImage  string         `json:"heroImage,omitempty" validate:"omitempty,url"`
	Flags      []string       `json:"flags,omitempty"`
	Confidence *float64       `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Validate checks the result shape and that its category is on the allow-list.
// A result failing any rule is rejected as a whole.
func (r *RewriteResult) Validate(allowedCategories []string) error {
	if r == nil {
		return apperr.New(apperr.ValidationFailure, "rewrite result is empty")
	}
	if err := validateStruct("rewrite result", r); err != nil {
		return err
	}
	if err := checkBlocks(r.Content); err != nil {
		return err
	}
	if len(allowedCategories) > 0 && !slices.Contains(allowedCategories, r.Category) {
		return apperr.New(apperr.ValidationFailure, "category %q is not in the allow-list", r.Category)
	}
	return nil
}

// Clone returns a deep copy.
func (r *RewriteResult) Clone() *RewriteResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = cloneStrings(r.Tags)
	out.Flags = cloneStrings(r.Flags)
	out.Content = cloneBlocks(r.Content)
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	return &out
}
