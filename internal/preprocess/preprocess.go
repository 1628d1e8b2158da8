// Package preprocess normalizes uploaded receipt files into a commonly
// displayable format before they enter the processing pipeline.
package preprocess

import (
	"bytes"
	"image/png"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// Normalize converts HEIC/HEIF camera images and PDF documents to PNG so they
// can be previewed in a browser and sent to any vision provider. Other formats
// pass through unchanged. Normalize never fails: on any conversion error the
// original file is returned as-is and downstream preview rendering may
// degrade.
func Normalize(filename string, data []byte, contentType string) ([]byte, string, string) {
	mime := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case mime == "application/pdf" || hasSuffix(filename, ".pdf"):
		converted, err := pdfToPNG(data)
		if err != nil {
			slog.Warn("PDF conversion failed, keeping original", "filename", filename, "error", err)
			return data, filename, contentType
		}
		return converted, replaceExt(filename, ".png"), "image/png"

	case isHEICData(data) || isHEICMimeType(mime) || hasSuffix(filename, ".heic") || hasSuffix(filename, ".heif"):
		converted, err := heicToPNG(data)
		if err != nil {
			slog.Warn("HEIC conversion failed, keeping original", "filename", filename, "error", err)
			return data, filename, contentType
		}
		return converted, replaceExt(filename, ".png"), "image/png"
	}

	return data, filename, contentType
}

// pdfToPNG renders the first page of a PDF as PNG; receipts are single page
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isHEICData checks the ftyp box for HEIC/HEIF brands
func isHEICData(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mime string) bool {
	return strings.Contains(mime, "heic") || strings.Contains(mime, "heif")
}

func hasSuffix(filename, ext string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ext)
}

func replaceExt(filename, newExt string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + newExt
}
