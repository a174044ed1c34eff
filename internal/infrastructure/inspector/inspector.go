package inspector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Inspector rejects uploads that are not a readable PDF or a JPEG/PNG scan.
type Inspector struct {
	maxPages int
}

func New(maxPages int) *Inspector {
	return &Inspector{maxPages: maxPages}
}

func (i *Inspector) Inspect(_ context.Context, fileName, contentType string, data []byte) error {
	const op = "inspect document"
	sniffed := http.DetectContentType(data)
	switch {
	case sniffed == "application/pdf":
		pages, err := countPDFPages(data)
		if err != nil {
			return domain.WrapError(domain.ErrValidation, op, fmt.Errorf("%s is not a readable pdf: %w", fileName, err))
		}
		if pages == 0 {
			return domain.WrapError(domain.ErrValidation, op, fmt.Errorf("%s has no pages", fileName))
		}
		if i.maxPages > 0 && pages > i.maxPages {
			return domain.WrapError(domain.ErrValidation, op, fmt.Errorf("%s has %d pages, limit is %d", fileName, pages, i.maxPages))
		}
		return nil
	case allowedImageTypes[sniffed]:
		return nil
	default:
		declared := strings.TrimSpace(contentType)
		if declared == "" {
			declared = "unknown"
		}
		return domain.WrapError(domain.ErrValidation, op,
			fmt.Errorf("%s has unsupported type %s (declared %s)", fileName, sniffed, declared))
	}
}

func countPDFPages(data []byte) (pages int, err error) {
	defer func() {
		// the parser panics on some truncated cross-reference tables
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("pdf reader: %w", err)
	}
	return reader.NumPage(), nil
}
