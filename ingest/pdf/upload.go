package pdf

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/academick/academick"
)

// MaxUploadSize is the default upload limit, in bytes.
const MaxUploadSize = 100 << 20

var magic = []byte("%PDF")

// ValidateUpload checks the file name, size and leading bytes of an
// upload against limit bytes (MaxUploadSize when limit <= 0). Errors wrap
// academick.ErrInvalidUpload.
func ValidateUpload(filename string, size, limit int64, head []byte) error {
	if limit <= 0 {
		limit = MaxUploadSize
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return fmt.Errorf("%w: %q is not a .pdf file", academick.ErrInvalidUpload, filename)
	}
	if size <= 0 {
		return fmt.Errorf("%w: empty file", academick.ErrInvalidUpload)
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", academick.ErrInvalidUpload, size, limit)
	}
	if !bytes.HasPrefix(head, magic) {
		return fmt.Errorf("%w: missing PDF header", academick.ErrInvalidUpload)
	}
	return nil
}

// BookName derives the book identifier from an upload's file name.
func BookName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}
