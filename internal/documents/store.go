// Package documents stores supporting files uploaded against claims.
package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

var (
	// ErrTooLarge is returned for uploads over the size limit.
	ErrTooLarge = errors.New("document exceeds the upload size limit")

	// ErrUnsupportedType is returned for extensions outside the allow list
	// or content that does not match its extension.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("document is empty")
)

// DefaultMaxBytes is the upload limit when none is configured.
const DefaultMaxBytes = 20 << 20

// allowed maps an extension to the MIME type its content must sniff as.
var allowed = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Recorder persists document metadata.
type Recorder interface {
	SaveDocument(ctx context.Context, orgID string, doc *domain.Document) error
}

// Store writes uploads under dir/<org>/<claim>/.
type Store struct {
	dir      string
	maxBytes int64
	recorder Recorder
	logger   *slog.Logger
}

// NewStore creates a document store.
func NewStore(cfg domain.UploadConfig, recorder Recorder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "./uploads"
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		recorder: recorder,
		logger:   logger,
	}
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Upload is one file to store.
type Upload struct {
	OrgID      string
	ClaimID    string
	Filename   string
	UploadedBy string
	Body       io.Reader
}

// Save validates, writes and records an upload. Nothing is left on disk
// when recording fails.
func (s *Store) Save(ctx context.Context, up Upload) (*domain.Document, error) {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrUnsupportedType)
	}
	ext := strings.ToLower(filepath.Ext(name))
	want, ok := allowed[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (allowed: .pdf, .png, .jpg, .jpeg)", ErrUnsupportedType, ext)
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	detected := mimetype.Detect(data)
	if !detected.Is(want) {
		return nil, fmt.Errorf("%w: %s content does not match %s", ErrUnsupportedType, detected.String(), ext)
	}

	sum := sha256.Sum256(data)
	doc := &domain.Document{
		ID:          NewID(),
		ClaimID:     up.ClaimID,
		OrgID:       up.OrgID,
		Filename:    name,
		ContentType: want,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		UploadedBy:  up.UploadedBy,
		UploadedAt:  time.Now().UTC(),
	}

	dir := filepath.Join(s.dir, safeSegment(up.OrgID), safeSegment(up.ClaimID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	doc.StoragePath = filepath.Join(dir, doc.ID+ext)

	if err := writeFile(doc.StoragePath, data); err != nil {
		return nil, err
	}

	if err := s.recorder.SaveDocument(ctx, up.OrgID, doc); err != nil {
		if rmErr := os.Remove(doc.StoragePath); rmErr != nil {
			s.logger.Warn("failed to remove orphaned upload", "path", doc.StoragePath, "error", rmErr)
		}
		return nil, err
	}

	metrics.DocumentsUploadedTotal.Inc()
	s.logger.Info("document stored",
		"org_id", up.OrgID,
		"claim_id", up.ClaimID,
		"document_id", doc.ID,
		"content_type", doc.ContentType,
		"size", doc.Size,
	)
	return doc, nil
}

// Open returns a reader for a stored document.
func (s *Store) Open(doc *domain.Document) (io.ReadCloser, error) {
	return os.Open(doc.StoragePath)
}

// NewID returns a document ID of the form DOC-XXXXXXXX.
func NewID() string {
	return "DOC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("creating document file: %w", err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing document file: %w", err)
	}
	return f.Close()
}

// safeSegment keeps an identifier from escaping its directory.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
