package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// GeneratePDF renders an experiment handout: the text sections, the
// illustration state and the quiz with its answer key.
func (s *PDFService) GeneratePDF(exp domain.Experiment, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure pdf directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(exp.Title), false)
	pdf.SetAuthor("Virtual Experiment Sandbox", false)
	pdf.AddPage()

	title := exp.Title
	if strings.TrimSpace(title) == "" {
		title = "Experiment"
	}

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, tr(title))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	updated := time.Unix(exp.UpdatedAt, 0).Local()
	pdf.Cell(0, 6, fmt.Sprintf("Updated: %s   Quiz version: %d", updated.Format("02/01/2006 15:04"), exp.QuizVersion))
	pdf.Ln(10)

	s.writeSection(pdf, tr, "Aim", exp.Content.Aim)
	s.writeSection(pdf, tr, "Introduction", exp.Content.Introduction)
	s.writeSection(pdf, tr, "Article", exp.Content.Article)
	s.writeSection(pdf, tr, "Illustration", illustrationLine(exp.Content.Illustration))
	s.writeQuiz(pdf, tr, exp.Content.Quiz)

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}

	return nil
}

func illustrationLine(i domain.Illustration) string {
	switch i.State {
	case domain.IllustrationPending:
		return "Video is still being generated."
	case domain.IllustrationReady:
		return "Video: " + i.Ref
	default:
		return ""
	}
}

func (s *PDFService) writeSection(pdf *gofpdf.Fpdf, tr func(string) string, title, content string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)

	content = strings.TrimSpace(content)
	if content == "" {
		pdf.MultiCell(0, 6, "(empty)", "", "L", false)
		pdf.Ln(4)
		return
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pdf.MultiCell(0, 6, tr(line), "", "L", false)
	}
	pdf.Ln(4)
}

func (s *PDFService) writeQuiz(pdf *gofpdf.Fpdf, tr func(string) string, quiz domain.QuizData) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, fmt.Sprintf("Quiz (%d questions)", quiz.TotalQuestions))
	pdf.Ln(10)

	for i, q := range quiz.Questions {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s [%s]", i+1, q.Question, q.Difficulty)), "", "L", false)

		pdf.SetFont("Helvetica", "", 12)
		for idx, opt := range q.Options {
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("   %c. %s", 'A'+idx, opt)), "", "L", false)
		}
		pdf.SetFont("Helvetica", "I", 11)
		pdf.MultiCell(0, 6, tr("   Answer: "+q.CorrectAnswer), "", "L", false)
		pdf.Ln(3)
	}
}
