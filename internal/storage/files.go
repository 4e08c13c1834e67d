package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

var ErrUploadTooLarge = fmt.Errorf("document exceeds maximum size")

// AllowedDocumentExtensions are the upload types the extractor accepts.
var AllowedDocumentExtensions = map[string]struct{}{
	".pptx": {},
	".pdf":  {},
	".docx": {},
	".doc":  {},
}

type FileManager struct {
	baseDir        string
	uploadDir      string
	pdfDir         string
	maxUploadBytes int64
}

func NewFileManager(baseDir string, maxUploadBytes int64) (*FileManager, error) {
	fm := &FileManager{
		baseDir:        baseDir,
		uploadDir:      filepath.Join(baseDir, "uploads"),
		pdfDir:         filepath.Join(baseDir, "pdf"),
		maxUploadBytes: maxUploadBytes,
	}

	dirs := []string{fm.baseDir, fm.uploadDir, fm.pdfDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

// CheckDocumentName validates the extension of an uploaded document.
func CheckDocumentName(filename string) (string, error) {
	ext := normalizeExtension(filename)
	if _, ok := AllowedDocumentExtensions[ext]; !ok {
		return "", domain.NewValidationError("file", fmt.Sprintf("unsupported document type %q (allowed: .pptx, .pdf, .docx, .doc)", ext))
	}
	return ext, nil
}

// SaveUploadedDocument stores the upload under a random name and returns the
// path. The caller removes it once the text is extracted.
func (fm *FileManager) SaveUploadedDocument(r io.Reader, filename string) (string, error) {
	ext, err := CheckDocumentName(filename)
	if err != nil {
		return "", err
	}

	path := filepath.Join(fm.uploadDir, uuid.NewString()+ext)
	if err := fm.writeWithLimit(path, r); err != nil {
		return "", err
	}
	return path, nil
}

func (fm *FileManager) PDFPath(id string) string {
	return filepath.Join(fm.pdfDir, fmt.Sprintf("%s.pdf", id))
}

// HasHandout reports whether an exported PDF exists for the experiment.
func (fm *FileManager) HasHandout(id string) bool {
	info, err := os.Stat(fm.PDFPath(id))
	return err == nil && !info.IsDir()
}

// RemoveHandout deletes the experiment's exported PDF, if any. It runs as a
// store delete hook, so Clear on logout removes handouts too.
func (fm *FileManager) RemoveHandout(id string) {
	_ = os.Remove(fm.PDFPath(id))
}

func (fm *FileManager) MaxUploadBytes() int64 {
	return fm.maxUploadBytes
}

func (fm *FileManager) writeWithLimit(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	src := r
	if fm.maxUploadBytes > 0 {
		src = io.LimitReader(r, fm.maxUploadBytes+1)
	}

	n, err := io.Copy(out, src)
	if err != nil {
		return cleanup(fmt.Errorf("write upload file: %w", err))
	}
	if fm.maxUploadBytes > 0 && n > fm.maxUploadBytes {
		return cleanup(ErrUploadTooLarge)
	}
	if n == 0 {
		return cleanup(fmt.Errorf("uploaded document is empty"))
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close upload file: %w", err)
	}

	return nil
}

func normalizeExtension(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ext
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
