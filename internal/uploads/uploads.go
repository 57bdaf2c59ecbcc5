// Package uploads is the upload sink: it stores uploaded payloads in a
// single flat directory under their (sanitized) client filename.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/errs"
)

const maxFilenameLength = 255

// allowed maps each accepted extension to the content type its bytes must sniff as.
var allowed = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

type StoredFile struct {
	Name        string `json:"file_name"`
	Path        string `json:"path"`
	Size        int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

type Sink struct {
	dir     string
	maxSize int64
	logger  *zap.Logger
}

// New prepares dir and returns a sink that refuses payloads over maxSize bytes.
func New(dir string, maxSize int64, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir %s: %v", errs.ErrStorageUnavailable, dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{dir: dir, maxSize: maxSize, logger: logger}, nil
}

func (s *Sink) Dir() string {
	return s.dir
}

func (s *Sink) MaxSize() int64 {
	return s.maxSize
}

// SanitizeFilename validates a client supplied filename. Names that carry
// a directory component, start with a dot, contain control characters or
// quotes, or use an extension outside the allow-list are rejected, never
// rewritten.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxFilenameLength {
		return "", errs.ErrInvalidFilename
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return "", errs.ErrInvalidFilename
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == ':' || r == '"' {
			return "", errs.ErrInvalidFilename
		}
	}
	if _, ok := allowed[strings.ToLower(filepath.Ext(name))]; !ok {
		return "", errs.ErrUnsupportedFileType
	}
	return name, nil
}

// IsImage reports whether name is rendered inline as an image.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Store writes r to <dir>/<filename>, replacing any file of the same name.
// The payload is staged in a temp file and renamed into place, so a failed
// or oversized upload never disturbs the previous file.
func (s *Sink) Store(ctx context.Context, filename string, r io.Reader) (StoredFile, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return StoredFile{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: create temp file: %v", errs.ErrStorageUnavailable, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		tmp.Close()
		return StoredFile{}, fmt.Errorf("%w: write upload: %v", errs.ErrStorageUnavailable, err)
	}
	if n > s.maxSize {
		tmp.Close()
		return StoredFile{}, errs.ErrFileTooLarge
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return StoredFile{}, fmt.Errorf("%w: sync upload: %v", errs.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return StoredFile{}, fmt.Errorf("%w: close upload: %v", errs.ErrStorageUnavailable, err)
	}

	mtype, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: sniff upload: %v", errs.ErrStorageUnavailable, err)
	}
	if !matches(mtype, allowed[strings.ToLower(filepath.Ext(name))]) {
		s.logger.Warn("upload content does not match extension",
			zap.String("file_name", name), zap.String("detected", mtype.String()))
		return StoredFile{}, fmt.Errorf("%w: content is %s", errs.ErrUnsupportedFileType, mtype.String())
	}

	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		return StoredFile{}, fmt.Errorf("%w: move upload into place: %v", errs.ErrStorageUnavailable, err)
	}
	committed = true

	s.logger.Info("file stored", zap.String("file_name", name), zap.Int64("size", n), zap.String("content_type", mtype.String()))

	return StoredFile{
		Name:        name,
		Path:        final,
		Size:        n,
		ContentType: mtype.String(),
	}, nil
}

func matches(mtype *mimetype.MIME, expected string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return true
		}
	}
	return false
}

// Open returns the stored file called name for reading.
func (s *Sink) Open(name string) (*os.File, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: open upload: %v", errs.ErrStorageUnavailable, err)
	}
	return f, nil
}
