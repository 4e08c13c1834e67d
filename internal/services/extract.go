package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrDocumentTooLarge    = errors.New("document part exceeds extraction limit")
)

// maxOpenXMLPartBytes caps the decompressed size of a single OpenXML part.
var maxOpenXMLPartBytes int64 = 16 << 20

// RemoteExtractor posts the document to an external text extraction service
// as multipart field "file" and reads {"text": ...} back.
type RemoteExtractor struct {
	endpoint   string
	httpClient *http.Client
}

func NewRemoteExtractor(endpoint string, timeout time.Duration) *RemoteExtractor {
	return &RemoteExtractor{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

func (e *RemoteExtractor) ExtractText(ctx context.Context, filename string, r io.Reader) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy document data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode extraction response: status %d: %w", resp.StatusCode, err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("extraction service: %s", payload.Error)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("extraction service status %d", resp.StatusCode)
	}
	return strings.TrimSpace(payload.Text), nil
}

// LocalExtractor pulls text out of PDF, DOCX and PPTX in-process. Legacy
// .doc files are binary Word documents and are rejected.
type LocalExtractor struct{}

func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{}
}

func (LocalExtractor) ExtractText(_ context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %s", filename)
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		if !isPDF(data) {
			return "", fmt.Errorf("file claims pdf but is missing the %%PDF header: %s", filename)
		}
		return extractPDF(data)
	case ".docx":
		return extractOpenXMLText(data, func(name string) bool { return name == "word/document.xml" })
	case ".pptx":
		return extractOpenXMLText(data, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, ext)
	}
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return collapseWhitespace(string(b)), nil
}

// extractOpenXMLText gathers every <*:t> run from the matching zip parts, in
// part-name order so slides come out in sequence.
func extractOpenXMLText(zipBytes []byte, match func(name string) bool) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", fmt.Errorf("open openxml container: %w", err)
	}

	var parts []*zip.File
	for _, f := range zr.File {
		if match(f.Name) {
			parts = append(parts, f)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return naturalLess(parts[i].Name, parts[j].Name) })

	var out strings.Builder
	for _, f := range parts {
		b, err := readZipPart(f, maxOpenXMLPartBytes)
		if err != nil {
			return "", err
		}
		out.WriteString(extractTextRuns(b))
		out.WriteString("\n")
	}

	s := collapseWhitespace(out.String())
	if s == "" {
		return "", fmt.Errorf("no text extracted from document")
	}
	return s, nil
}

func readZipPart(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrDocumentTooLarge)
	}
	return b, nil
}

func extractTextRuns(xmlBytes []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(xmlBytes))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "t" {
			continue
		}
		var v string
		_ = dec.DecodeElement(&v, &se)
		if v != "" {
			out.WriteString(v)
			out.WriteString(" ")
		}
	}
	return out.String()
}

// naturalLess orders slide2.xml before slide10.xml.
func naturalLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
