package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	pdfreader "github.com/ledongthuc/pdf"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

const (
	DefaultMaxPages     = 500
	DefaultMinPageChars = 20
)

// Parser extracts per-page plain text with github.com/ledongthuc/pdf.
type Parser struct {
	maxPages     int
	minPageChars int
}

func NewParser(maxPages, minPageChars int) *Parser {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if minPageChars < 0 {
		minPageChars = DefaultMinPageChars
	}
	return &Parser{maxPages: maxPages, minPageChars: minPageChars}
}

func (p *Parser) Parse(ctx context.Context, data []byte) (parsed *domain.ParsedPDF, err error) {
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrParseFailure, "parse pdf", errors.New("pdf file is empty"))
	}

	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			parsed = nil
			err = domain.WrapError(domain.ErrParseFailure, "parse pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdfreader.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParseFailure, "parse pdf", err)
	}

	total := reader.NumPage()
	limit := total
	if limit > p.maxPages {
		limit = p.maxPages
	}

	var (
		pages    []domain.Page
		fallback *domain.Page
	)
	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.WrapError(domain.ErrParseFailure, "parse pdf", fmt.Errorf("page %d: %w", n, err))
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len([]rune(text)) <= p.minPageChars {
			if fallback == nil {
				fallback = &domain.Page{Number: n, Text: text}
			}
			continue
		}
		pages = append(pages, domain.Page{Number: n, Text: text})
	}

	if len(pages) == 0 {
		if fallback == nil {
			return nil, domain.WrapError(domain.ErrNoExtractableText, "parse pdf",
				errors.New("pdf appears to be scanned or image-based"))
		}
		pages = append(pages, *fallback)
	}

	if total == 0 {
		total = len(pages)
	}
	return &domain.ParsedPDF{
		Pages:      pages,
		TotalPages: total,
		Metadata:   readMetadata(reader),
	}, nil
}

func readMetadata(reader *pdfreader.Reader) domain.PDFMetadata {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return domain.PDFMetadata{}
	}
	return domain.PDFMetadata{
		Title:  strings.TrimSpace(info.Key("Title").Text()),
		Author: strings.TrimSpace(info.Key("Author").Text()),
	}
}
