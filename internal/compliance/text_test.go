package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "rental-docflow/internal/common/errors"
)

type fakeObjects struct {
	bucket, key string
	data        []byte
	contentType string
	err         error
}

func (f *fakeObjects) GetObject(_ context.Context, bucket, key string) ([]byte, string, error) {
	f.bucket, f.key = bucket, key
	return f.data, f.contentType, f.err
}

func TestParseStorageURL(t *testing.T) {
	tests := []struct {
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://leases/prop-1/lease.pdf", "leases", "prop-1/lease.pdf", false},
		{"prop-1/lease.txt", "", "prop-1/lease.txt", false},
		{"/prop-1/lease.txt", "", "prop-1/lease.txt", false},
		{"s3://leases", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			bucket, key, err := ParseStorageURL(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestS3TextSource_PlainTextTruncated(t *testing.T) {
	objs := &fakeObjects{data: []byte("  Residential lease agreement  "), contentType: "text/plain"}
	src := NewS3TextSource(objs, 11)

	text, err := src.Text(context.Background(), "s3://leases/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Residential", text)
	assert.Equal(t, "leases", objs.bucket)
	assert.Equal(t, "a.txt", objs.key)
}

func TestS3TextSource_Errors(t *testing.T) {
	_, err := NewS3TextSource(&fakeObjects{err: errors.New("NoSuchKey")}, 0).Text(context.Background(), "a.txt")
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)

	_, err = NewS3TextSource(&fakeObjects{data: []byte("   ")}, 0).Text(context.Background(), "a.txt")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewS3TextSource(&fakeObjects{data: []byte("%PDF-1.4 truncated")}, 0).Text(context.Background(), "a.bin")
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/pdf", "x", nil))
	assert.True(t, isPDF("", "lease.PDF", nil))
	assert.True(t, isPDF("", "blob", []byte("%PDF-1.7")))
	assert.False(t, isPDF("text/plain", "lease.txt", []byte("hello")))
}
