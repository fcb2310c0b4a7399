package compliance

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	apperr "rental-docflow/internal/common/errors"
)

// TextSource fetches the plain text of a stored document.
type TextSource interface {
	Text(ctx context.Context, storageURL string) (string, error)
}

// ObjectGetter is the subset of the S3 client the text source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, string, error)
}

type S3TextSource struct {
	objects  ObjectGetter
	maxChars int
}

// NewS3TextSource builds a text source that truncates to maxChars runes
// (0 means no limit).
func NewS3TextSource(objects ObjectGetter, maxChars int) *S3TextSource {
	return &S3TextSource{objects: objects, maxChars: maxChars}
}

func (s *S3TextSource) Text(ctx context.Context, storageURL string) (string, error) {
	bucket, key, err := ParseStorageURL(storageURL)
	if err != nil {
		return "", err
	}

	data, contentType, err := s.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return "", apperr.NewExternalServiceUnavailableError("s3", err)
	}

	var text string
	if isPDF(contentType, key, data) {
		text, err = ExtractPDFText(data)
		if err != nil {
			return "", apperr.NewInputParsingError(err)
		}
	} else {
		text = strings.ToValidUTF8(string(data), "")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.NewValidationError("document " + storageURL + " contains no extractable text")
	}
	return truncate(text, s.maxChars), nil
}

// ParseStorageURL accepts s3://bucket/key or a bucket-relative key.
func ParseStorageURL(raw string) (bucket, key string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", apperr.NewValidationError("storage url is empty")
	}
	if !strings.HasPrefix(raw, "s3://") {
		return "", strings.TrimPrefix(raw, "/"), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", apperr.NewValidationError(fmt.Sprintf("invalid storage url %q: %v", raw, err))
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", apperr.NewValidationError(fmt.Sprintf("storage url %q needs a bucket and a key", raw))
	}
	return u.Host, key, nil
}

func isPDF(contentType, key string, data []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(key), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// ExtractPDFText concatenates the plain text of every readable page.
func ExtractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxChars])
}
