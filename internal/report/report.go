// Package report renders the downloadable feedback document for one analysis.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
	"github.com/gomutex/godocx/wml/stypes"

	"github.com/notmtri/necspeaking/internal/grading"
)

const title = "necs. - Speech Feedback Report"

// Feedback is everything that goes into one report.
type Feedback struct {
	Topic      string
	Transcript string
	Result     grading.Result
	Generated  time.Time
}

// Filename is the download name for a report generated at t.
func Filename(t time.Time) string {
	return "necs_feedback_" + t.Format("20060102_150405") + ".docx"
}

// Render produces the .docx bytes. Scores are printed as given, so values
// outside the rubric range still render.
func Render(f Feedback) ([]byte, error) {
	if f.Generated.IsZero() {
		f.Generated = time.Now()
	}
	s := f.Result.Scores
	fb := f.Result.Feedback

	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("new document: %w", err)
	}

	h, err := doc.AddHeading(title, 0)
	if err != nil {
		return nil, err
	}
	h.Justification(stypes.JustificationCenter)
	doc.AddParagraph("Date: " + f.Generated.Format("January 02, 2006"))
	doc.AddParagraph("Topic: " + f.Topic)
	doc.AddParagraph("")

	if err := heading(doc, 1, "Score Summary"); err != nil {
		return nil, err
	}
	scoreTable(doc, [][2]string{
		{"Content", s.Content.String() + "/0.9"},
		{"Accuracy", s.Accuracy.String() + "/0.6"},
		{"Delivery", s.Delivery.String() + "/0.5"},
		{"", ""},
		{"TOTAL SCORE", s.Total.String() + "/2.0"},
	})
	doc.AddParagraph("")

	sections := []struct {
		level      uint
		text, body string
	}{
		{1, "Detailed Feedback", ""},
		{2, "1. Content", string(fb.Content)},
		{2, "2. Accuracy", string(fb.Accuracy)},
		{2, "3. Delivery", string(fb.Delivery)},
	}
	for _, sec := range sections {
		if err := heading(doc, sec.level, sec.text); err != nil {
			return nil, err
		}
		if sec.body != "" {
			lines(doc, sec.body)
		}
	}

	doc.AddPageBreak()
	if err := heading(doc, 1, "Your Speech Transcript"); err != nil {
		return nil, err
	}
	lines(doc, f.Transcript)

	doc.AddPageBreak()
	if err := heading(doc, 1, "Sample 2.0/2.0 Response"); err != nil {
		return nil, err
	}
	lines(doc, string(f.Result.SampleResponse))

	return save(doc)
}

func heading(doc *docx.RootDoc, level uint, text string) error {
	_, err := doc.AddHeading(text, level)
	return err
}

// lines writes text as one paragraph per line.
func lines(doc *docx.RootDoc, text string) {
	for _, line := range strings.Split(text, "\n") {
		doc.AddParagraph(strings.TrimSuffix(line, "\r"))
	}
}

// scoreTable writes the two-column score grid with the last row in bold.
func scoreTable(doc *docx.RootDoc, rows [][2]string) {
	tbl := doc.AddTable()
	tbl.Style("TableGrid")
	for i, row := range rows {
		r := tbl.AddRow()
		for _, cell := range row {
			if i == len(rows)-1 {
				r.AddCell().AddParagraph("").AddText(cell).Bold(true)
				continue
			}
			r.AddCell().AddParagraph(cell)
		}
	}
}

// save packages the document. godocx writes to a path, so the package
// goes through a private temp dir.
func save(doc *docx.RootDoc) ([]byte, error) {
	dir, err := os.MkdirTemp("", "necs-report-*")
	if err != nil {
		return nil, fmt.Errorf("report temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "report.docx")
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return os.ReadFile(path)
}
