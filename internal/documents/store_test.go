package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func newTestStore(t *testing.T, maxBytes int64) (*Store, *repository.SQLRepository, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "docs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.SaveOrganization(ctx, &domain.Organization{ID: "org-apex", Name: "Apex Insurance Co."}); err != nil {
		t.Fatalf("SaveOrganization failed: %v", err)
	}
	if err := repo.SaveClaim(ctx, "org-apex", &domain.Claim{
		ID: "CLM-0001", PolicyNumber: "POL-1", Source: domain.SourceUploaded, Data: domain.ClaimRecord{},
	}); err != nil {
		t.Fatalf("SaveClaim failed: %v", err)
	}

	uploads := filepath.Join(dir, "uploads")
	store := NewStore(domain.UploadConfig{Dir: uploads, MaxBytes: maxBytes}, repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return store, repo, uploads
}

func TestSave(t *testing.T) {
	store, repo, uploads := newTestStore(t, 0)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		body     []byte
		wantType string
	}{
		{"pdf", "police-report.pdf", pdfBytes, "application/pdf"},
		{"png", "Damage.PNG", pngBytes, "image/png"},
		{"jpeg", "scene.jpeg", jpegBytes, "image/jpeg"},
		{"jpg", "scene.jpg", jpegBytes, "image/jpeg"},
	}

	idPattern := regexp.MustCompile(`^DOC-[0-9A-F]{8}$`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := store.Save(ctx, Upload{
				OrgID: "org-apex", ClaimID: "CLM-0001", Filename: tt.filename,
				UploadedBy: "user-001", Body: bytes.NewReader(tt.body),
			})
			if err != nil {
				t.Fatalf("save failed: %v", err)
			}
			if !idPattern.MatchString(doc.ID) {
				t.Errorf("unexpected document ID %s", doc.ID)
			}
			if doc.ContentType != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, doc.ContentType)
			}
			if doc.Size != int64(len(tt.body)) || len(doc.SHA256) != 64 {
				t.Errorf("unexpected size %d or digest %q", doc.Size, doc.SHA256)
			}
			if !strings.HasPrefix(doc.StoragePath, filepath.Join(uploads, "org-apex", "CLM-0001")) {
				t.Errorf("unexpected storage path %s", doc.StoragePath)
			}

			rc, err := store.Open(doc)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			defer rc.Close()
			got, _ := io.ReadAll(rc)
			if !bytes.Equal(got, tt.body) {
				t.Error("stored bytes differ from upload")
			}
		})
	}

	docs, err := repo.ListDocuments(ctx, "org-apex", "CLM-0001")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != len(tests) {
		t.Errorf("expected %d recorded documents, got %d", len(tests), len(docs))
	}
}

func TestSaveRejects(t *testing.T) {
	store, _, uploads := newTestStore(t, 64)
	ctx := context.Background()

	tests := []struct {
		name     string
		orgID    string
		filename string
		body     []byte
		want     error
	}{
		{"extension", "org-apex", "notes.txt", []byte("hello"), ErrUnsupportedType},
		{"no filename", "org-apex", "", pdfBytes, ErrUnsupportedType},
		{"mismatched content", "org-apex", "photo.png", pdfBytes[:40], ErrUnsupportedType},
		{"too large", "org-apex", "big.pdf", bytes.Repeat([]byte("a"), 65), ErrTooLarge},
		{"empty", "org-apex", "empty.pdf", nil, ErrEmpty},
		{"foreign claim", "org-nova", "report.pdf", pdfBytes[:40], repository.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Save(ctx, Upload{
				OrgID: tt.orgID, ClaimID: "CLM-0001", Filename: tt.filename, Body: bytes.NewReader(tt.body),
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	entries, _ := os.ReadDir(filepath.Join(uploads, "org-nova", "CLM-0001"))
	if len(entries) != 0 {
		t.Errorf("expected no orphaned files, got %d", len(entries))
	}
}

func TestSafeSegment(t *testing.T) {
	tests := map[string]string{
		"org-apex": "org-apex",
		"../etc":   "__etc",
		"a/b":      "a_b",
		"":         "_",
		`..\\win`:  "___win",
	}
	for in, want := range tests {
		if got := safeSegment(in); got != want {
			t.Errorf("safeSegment(%q): expected %q, got %q", in, want, got)
		}
	}
}
