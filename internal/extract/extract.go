// Package extract converts PDF documents into ordered page texts.
package extract

import (
	"context"
	"fmt"
	"strings"

	"plancheck/internal/task"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Service extracts page text from PDFs using go-fitz. Stateless; one instance
// serves all tasks.
type Service struct{}

func NewService() *Service { return &Service{} }

// ExtractPages returns the text of every page in order. progress, if non-nil,
// is called after each page with (current, total). A page that fails to
// extract yields a placeholder rather than aborting the document.
func (s *Service) ExtractPages(ctx context.Context, path string, progress func(current, total int)) ([]task.Page, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("pdf has no pages: %s", path)
	}

	pages := make([]task.Page, 0, total)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pageNum := i + 1
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Str("path", path).Int("page", pageNum).Err(err).Msg("page extraction failed")
			text = fmt.Sprintf("## Page %d\n[Error extracting content]", pageNum)
		} else {
			text = fmt.Sprintf("## Page %d\n%s", pageNum, strings.TrimSpace(text))
		}
		pages = append(pages, task.Page{Number: pageNum, Text: text})

		if progress != nil {
			progress(pageNum, total)
		}
	}
	log.Info().Str("path", path).Int("pages", total).Msg("pdf extracted")
	return pages, nil
}

// PageCount opens the document just long enough to count its pages. Used for
// upload metadata.
func (s *Service) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
