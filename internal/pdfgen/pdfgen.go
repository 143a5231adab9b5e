package pdfgen

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// TrendReport is the input of one compliance trend document.
type TrendReport struct {
	ClusterName string
	From        storage.Day
	To          storage.Day
	GeneratedAt time.Time
	// History holds one row per saved day, oldest first.
	History []storage.ComplianceSummary
	// Current holds one row per namespace.
	Current []storage.ComplianceSummary
}

type PDFGenerator struct {
	pdf *gofpdf.Fpdf
}

func New() *PDFGenerator {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)

	return &PDFGenerator{
		pdf: pdf,
	}
}

// Generate renders report to w.
func (g *PDFGenerator) Generate(report TrendReport, w io.Writer) error {
	g.pdf.AddPage()

	g.addHeader(report.ClusterName)
	g.pdf.Ln(3)
	g.addTimestamp(report.GeneratedAt, report.From, report.To)
	g.pdf.Ln(6)

	g.addH2("Overview")
	g.addOverview(report.History)
	g.addDivider()

	g.addH2("Daily compliance")
	if len(report.History) == 0 {
		g.addParagraph("No history was archived in this period.")
	} else {
		g.addTrendTable(report.History)
	}
	g.addDivider()

	g.addH2("Current state by namespace")
	if len(report.Current) == 0 {
		g.addParagraph("No Running pods.")
	} else {
		g.addNamespaceTable(report.Current)
	}

	g.addFooter()

	if err := g.pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF: %w", err)
	}
	return nil
}

func (g *PDFGenerator) addHeader(clusterName string) {
	g.pdf.SetFillColor(108, 98, 255)
	g.pdf.Rect(0, 0, 210, 45, "F")

	g.pdf.Ln(8)
	g.pdf.SetFont("Arial", "B", 24)
	g.pdf.SetTextColor(255, 255, 255)
	g.pdf.CellFormat(0, 12, "Kubernetes Compliance Trend", "", 1, "C", false, 0, "")

	g.pdf.SetFont("Arial", "", 12)
	g.pdf.SetTextColor(255, 255, 255)
	g.pdf.CellFormat(0, 10, fmt.Sprintf("Cluster: %s", cleanText(clusterName)), "", 1, "C", false, 0, "")
}

func (g *PDFGenerator) addTimestamp(at time.Time, from, to storage.Day) {
	if at.IsZero() {
		at = time.Now()
	}
	g.pdf.SetFont("Arial", "I", 9)
	g.pdf.SetTextColor(120, 120, 120)
	g.pdf.CellFormat(0, 6, fmt.Sprintf("Period %s to %s, generated %s", from, to, at.Format("Monday, January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")
}

func (g *PDFGenerator) addOverview(history []storage.ComplianceSummary) {
	if len(history) == 0 {
		g.addParagraph("Nothing to summarize.")
		return
	}
	first, last := history[0], history[len(history)-1]
	g.addParagraph(fmt.Sprintf("Compliance on %s: %s of %d Running pods.", last.SavedDate, percent(last), last.NumPods))
	if len(history) > 1 {
		delta := ratio(last) - ratio(first)
		direction := "unchanged"
		switch {
		case delta > 0.0005:
			direction = fmt.Sprintf("up %.1f points", delta*100)
		case delta < -0.0005:
			direction = fmt.Sprintf("down %.1f points", -delta*100)
		}
		g.addParagraph(fmt.Sprintf("Since %s compliance is %s.", first.SavedDate, direction))
	}
}

var trendColumns = []struct {
	title string
	width float64
}{
	{"Day", 30}, {"Pods", 22}, {"Compliant", 25}, {"Non-compliant", 30}, {"Rate", 20}, {"", 63},
}

func (g *PDFGenerator) addTrendTable(history []storage.ComplianceSummary) {
	g.tableHeader()
	g.pdf.SetFont("Arial", "", 9)
	g.pdf.SetTextColor(60, 60, 60)
	for _, row := range history {
		cells := []string{
			row.SavedDate.String(),
			fmt.Sprint(row.NumPods),
			fmt.Sprint(row.NumCompliantPods),
			fmt.Sprint(row.NumNoncompliantPods),
			percent(row),
		}
		for i, text := range cells {
			g.pdf.CellFormat(trendColumns[i].width, 6, text, "B", 0, "L", false, 0, "")
		}
		g.addBar(ratio(row), trendColumns[len(trendColumns)-1].width)
		g.pdf.Ln(6)
	}
}

func (g *PDFGenerator) tableHeader() {
	g.pdf.SetFont("Arial", "B", 9)
	g.pdf.SetFillColor(240, 245, 255)
	g.pdf.SetTextColor(0, 51, 102)
	for _, col := range trendColumns {
		g.pdf.CellFormat(col.width, 7, col.title, "", 0, "L", true, 0, "")
	}
	g.pdf.Ln(7)
}

// addBar draws the compliant share of a row as a horizontal bar in the last
// column.
func (g *PDFGenerator) addBar(share, width float64) {
	x, y := g.pdf.GetX(), g.pdf.GetY()
	g.pdf.SetFillColor(230, 230, 235)
	g.pdf.Rect(x+2, y+1.5, width-4, 3, "F")
	if share > 0 {
		g.pdf.SetFillColor(108, 98, 255)
		g.pdf.Rect(x+2, y+1.5, (width-4)*share, 3, "F")
	}
	g.pdf.SetX(x + width)
}

func (g *PDFGenerator) addNamespaceTable(current []storage.ComplianceSummary) {
	g.pdf.SetFont("Arial", "B", 9)
	g.pdf.SetFillColor(240, 245, 255)
	g.pdf.SetTextColor(0, 51, 102)
	widths := []float64{80, 30, 30, 30}
	for i, title := range []string{"Namespace", "Pods", "Compliant", "Rate"} {
		g.pdf.CellFormat(widths[i], 7, title, "", 0, "L", true, 0, "")
	}
	g.pdf.Ln(7)

	g.pdf.SetFont("Arial", "", 9)
	g.pdf.SetTextColor(60, 60, 60)
	for _, row := range current {
		cells := []string{cleanText(row.Namespace), fmt.Sprint(row.NumPods), fmt.Sprint(row.NumCompliantPods), percent(row)}
		for i, text := range cells {
			g.pdf.CellFormat(widths[i], 6, text, "B", 0, "L", false, 0, "")
		}
		g.pdf.Ln(6)
	}
}

func (g *PDFGenerator) addH2(text string) {
	g.pdf.Ln(4)

	currentY := g.pdf.GetY()
	g.pdf.SetFillColor(108, 98, 255)
	g.pdf.Rect(10, currentY, 3, 7, "F")

	g.pdf.SetX(15)
	g.pdf.SetFont("Arial", "B", 13)
	g.pdf.SetTextColor(0, 51, 102)
	g.pdf.MultiCell(0, 7, cleanText(text), "", "L", false)
	g.pdf.Ln(2)
}

func (g *PDFGenerator) addParagraph(text string) {
	g.pdf.SetFont("Arial", "", 10)
	g.pdf.SetTextColor(60, 60, 60)
	g.pdf.MultiCell(0, 5, cleanText(text), "", "L", false)
}

func (g *PDFGenerator) addDivider() {
	g.pdf.Ln(3)
	currentY := g.pdf.GetY()

	g.pdf.SetDrawColor(108, 98, 255)
	g.pdf.SetLineWidth(0.5)
	g.pdf.Line(15, currentY, 195, currentY)

	g.pdf.SetDrawColor(200, 200, 220)
	g.pdf.SetLineWidth(0.2)
	g.pdf.Line(15, currentY+0.5, 195, currentY+0.5)

	g.pdf.SetLineWidth(0.2)
	g.pdf.Ln(3)
}

func (g *PDFGenerator) addFooter() {
	g.pdf.SetY(-20)
	g.pdf.SetFont("Arial", "I", 8)
	g.pdf.SetTextColor(150, 150, 150)
	g.pdf.CellFormat(0, 10, "Generated by k8s-compliance-history", "", 0, "C", false, 0, "")
	g.pdf.Ln(4)
	g.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", g.pdf.PageNo()), "", 0, "C", false, 0, "")
}

func ratio(s storage.ComplianceSummary) float64 {
	if s.NumPods == 0 {
		return 1
	}
	return float64(s.NumCompliantPods) / float64(s.NumPods)
}

func percent(s storage.ComplianceSummary) string {
	return fmt.Sprintf("%.1f%%", ratio(s)*100)
}

// cleanText keeps text inside the latin-1 range the core fonts can draw.
func cleanText(text string) string {
	replacements := map[string]string{
		"\u2022": "-",
		"\u2013": "-",
		"\u2014": "-",
		"\u2018": "'",
		"\u2019": "'",
		"\u201C": "\"",
		"\u201D": "\"",
		"\u2026": "...",
	}
	for old, new := range replacements {
		text = strings.ReplaceAll(text, old, new)
	}
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, text)
}

func GenerateTrendPDF(report TrendReport, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create PDF file: %w", err)
	}
	if err := New().Generate(report, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func GenerateTempTrendPDF(report TrendReport) (string, error) {
	tempFile, err := os.CreateTemp("", "k8s-compliance-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempFile.Close()

	if err := GenerateTrendPDF(report, tempFile.Name()); err != nil {
		os.Remove(tempFile.Name())
		return "", err
	}

	return tempFile.Name(), nil
}
