package imagerender

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// PageCount returns the number of pages in an in-memory PDF.
func PageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

// RenderPageToJPEG renders one page of an in-memory PDF to JPEG so it can be
// dispatched as a vision input. Pages are 1-based.
func RenderPageToJPEG(pdf []byte, pageNum, dpi, quality int) ([]byte, error) {
	total, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	if pageNum < 1 || pageNum > total {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", pageNum, total)
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNum-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNum, err)
	}

	data, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("page", pageNum).
		Int("pages_total", total).
		Int("jpeg_size", len(data)).
		Int("dpi", dpi).
		Int("quality", quality).
		Msg("rendered pdf page as jpeg")
	return data, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
