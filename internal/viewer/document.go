package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/webp"
)

var errNoPages = errors.New("document has no pages")

// kind groups content types by how they are rendered.
type kind int

const (
	kindOther kind = iota
	kindPDF
	kindImage
)

func classify(contentType string) kind {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "application/pdf" || ct == "application/x-pdf":
		return kindPDF
	case strings.HasPrefix(ct, "image/"):
		return kindImage
	}
	return kindOther
}

// pageCount opens the document the way the page renderer would and returns
// its number of pages.
func pageCount(data []byte) (n int, err error) {
	// the parser panics on some truncated xref tables
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	n = r.NumPage()
	if n < 1 {
		return 0, errNoPages
	}
	return n, nil
}

// imageSize decodes only the header of a raster image.
func imageSize(data []byte) (w, h int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, errors.New("decode image: empty image")
	}
	return cfg.Width, cfg.Height, nil
}
