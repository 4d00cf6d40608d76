package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/logger"
)

var _ core.DocumentExtractor = (*Extractor)(nil)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeEPUB = "application/epub+zip"
	mimePDF  = "application/pdf"
)

// Extractor dispatches on media type with the file extension as a fallback.
// PDFs go to a multimodal model, OOXML containers are scraped, EPUB and HTML
// are parsed, and anything unknown is decoded as text.
type Extractor struct {
	reader         core.DocumentReader
	useReadability bool
}

func NewExtractor(reader core.DocumentReader, useReadability bool) *Extractor {
	return &Extractor{reader: reader, useReadability: useReadability}
}

func (e *Extractor) ExtractText(ctx context.Context, data []byte, filePath, mediaType string) (string, error) {
	mt := normalizeMediaType(mediaType)
	ext := strings.ToLower(path.Ext(filePath))

	switch {
	case isTextual(mt, ext):
		return decodeText(data), nil

	case mt == mimePDF || ext == ".pdf":
		if e.reader == nil {
			return "", &core.ExtractionError{Source: filePath, Err: errors.New("no document reader configured for pdf")}
		}
		text, err := e.reader.ReadDocument(ctx, mimePDF, data)
		if err != nil {
			return "", &core.ExtractionError{Source: filePath, Err: err}
		}
		return text, nil

	case mt == mimeDOCX || ext == ".docx":
		return extractOffice(data, docxFormat), nil
	case mt == mimeXLSX || ext == ".xlsx":
		return extractOffice(data, xlsxFormat), nil
	case mt == mimePPTX || ext == ".pptx":
		return extractOffice(data, pptxFormat), nil

	case mt == mimeEPUB || ext == ".epub":
		text, err := extractEPUB(data)
		if err != nil {
			logger.Warn("epub parse failed, decoding as text", zap.String("path", filePath), zap.Error(err))
			return decodeText(data), nil
		}
		return text, nil

	case mt == "text/html" || mt == "application/xhtml+xml" || ext == ".html" || ext == ".htm":
		text, _, err := docconv.ConvertHTML(bytes.NewReader(data), e.useReadability)
		if err != nil {
			logger.Warn("docconv html failed, decoding as text", zap.String("path", filePath), zap.Error(err))
			return decodeText(data), nil
		}
		return text, nil

	case mt == "application/rtf" || mt == "text/rtf" || mt == "application/vnd.oasis.opendocument.text" ||
		ext == ".rtf" || ext == ".odt":
		if mt == "" {
			mt = docconv.MimeTypeByExtension(filePath)
		}
		res, err := docconv.Convert(bytes.NewReader(data), mt, e.useReadability)
		if err != nil {
			logger.Warn("docconv failed, decoding as text", zap.String("path", filePath), zap.String("media_type", mt), zap.Error(err))
			return decodeText(data), nil
		}
		return res.Body, nil
	}

	return decodeText(data), nil
}

func isTextual(mt, ext string) bool {
	switch mt {
	case "text/plain", "text/csv", "text/markdown", "text/x-markdown", "application/json", "application/csv":
		return true
	}
	switch ext {
	case ".txt", ".csv", ".md", ".markdown", ".json":
		return true
	}
	return false
}

func normalizeMediaType(mediaType string) string {
	if mediaType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}

// decodeText reads bytes as UTF-8, dropping invalid sequences.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}
