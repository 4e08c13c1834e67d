package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestLocalExtractorDOCX(t *testing.T) {
	doc := buildZip(t, map[string]string{
		"word/document.xml": `<w:document xmlns:w="w"><w:body><w:p><w:r><w:t>Light bends</w:t></w:r><w:r><w:t>through   glass</w:t></w:r></w:p></w:body></w:document>`,
	})

	text, err := NewLocalExtractor().ExtractText(context.Background(), "lab.docx", bytes.NewReader(doc))
	if err != nil {
		t.Fatalf("extract docx: %v", err)
	}
	if text != "Light bends through glass" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestLocalExtractorPPTXSlideOrder(t *testing.T) {
	deck := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml":           `<p:sld xmlns:a="a"><a:t>ten</a:t></p:sld>`,
		"ppt/slides/slide2.xml":            `<p:sld xmlns:a="a"><a:t>two</a:t></p:sld>`,
		"ppt/slides/slide1.xml":            `<p:sld xmlns:a="a"><a:t>one</a:t></p:sld>`,
		"ppt/slides/_rels/slide1.xml.rels": `<Relationships/>`,
	})

	text, err := NewLocalExtractor().ExtractText(context.Background(), "deck.pptx", bytes.NewReader(deck))
	if err != nil {
		t.Fatalf("extract pptx: %v", err)
	}
	if text != "one two ten" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestLocalExtractorRejects(t *testing.T) {
	ex := NewLocalExtractor()

	if _, err := ex.ExtractText(context.Background(), "old.doc", strings.NewReader("binary")); !errors.Is(err, ErrUnsupportedDocument) {
		t.Fatalf("expected unsupported for .doc, got %v", err)
	}
	if _, err := ex.ExtractText(context.Background(), "fake.pdf", strings.NewReader("hello")); err == nil {
		t.Fatalf("expected error for pdf without header")
	}
	if _, err := ex.ExtractText(context.Background(), "empty.pdf", strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestLocalExtractorLimitsDecompressedParts(t *testing.T) {
	saved := maxOpenXMLPartBytes
	maxOpenXMLPartBytes = 64
	defer func() { maxOpenXMLPartBytes = saved }()

	doc := buildZip(t, map[string]string{
		"word/document.xml": `<w:document><w:body><w:p><w:r><w:t>` + strings.Repeat("light ", 50) + `</w:t></w:r></w:p></w:body></w:document>`,
	})
	_, err := NewLocalExtractor().ExtractText(context.Background(), "big.docx", bytes.NewReader(doc))
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func TestRemoteExtractorPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		_, _ = w.Write([]byte(`{"filename": "` + header.Filename + `", "text": "  ` + string(body) + `  "}`))
	}))
	defer srv.Close()

	text, err := NewRemoteExtractor(srv.URL+"/extract-text", time.Second).ExtractText(context.Background(), "/tmp/x/notes.pdf", strings.NewReader("extracted"))
	if err != nil {
		t.Fatalf("remote extract: %v", err)
	}
	if text != "extracted" {
		t.Fatalf("unexpected text %q", text)
	}
}
