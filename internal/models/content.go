package models

import "reddot-watch/newsdesk/internal/apperr"

// Content block types understood by the public site renderer.
const (
	BlockParagraph = "paragraph"
	BlockHeading   = "heading"
	BlockQuote     = "quote"
	BlockList      = "list"
	BlockImage     = "image"
)

// ContentBlock is one structured element of an article body.
type ContentBlock struct {
	Type    string   `json:"type" validate:"required,oneof=paragraph heading quote list image"`
	Text    string   `json:"text,omitempty"`
	Items   []string `json:"items,omitempty"`
	URL     string   `json:"url,omitempty"`
	Caption string   `json:"caption,omitempty"`
	Level   int      `json:"level,omitempty" validate:"omitempty,min=2,max=4"`
}

// checkBlocks enforces the per-type payload rules the tags cannot express.
func checkBlocks(blocks []ContentBlock) error {
	for i, b := range blocks {
		switch b.Type {
		case BlockParagraph, BlockHeading, BlockQuote:
			if b.Text == "" {
				return apperr.New(apperr.ValidationFailure, "content[%d]: %s block without text", i, b.Type)
			}
		case BlockList:
			if len(b.Items) == 0 {
				return apperr.New(apperr.ValidationFailure, "content[%d]: list block without items", i)
			}
		case BlockImage:
			if b.URL == "" {
				return apperr.New(apperr.ValidationFailure, "content[%d]: image block without url", i)
			}
		default:
			return apperr.New(apperr.ValidationFailure, "content[%d]: unknown block type %q", i, b.Type)
		}
	}
	return nil
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		out[i].Items = cloneStrings(b.Items)
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
