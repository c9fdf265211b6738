// Package export compiles a finished course into a PDF book: title page,
// contents, then modules with their chapters, pages, summaries, and
// quizzes.
package export

import (
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/tutorforge/tutorforge/course"
)

const lineHeight = 5

// Compiler renders one course document into a PDF file.
type Compiler struct {
	course *course.Course
	output string

	pdf       *gofpdf.Fpdf
	translate func(string) string

	headingFont string
	textFont    string
	pageNumbers bool
	tocTitle    string
	pageWidth   float64
	margin      float64

	// collecting is true during the measuring pass, when headings are
	// recorded with their page numbers instead of a contents page being
	// rendered.
	collecting bool
	toc        []tocEntry
	tocStyles  map[int]textStyle
}

type tocEntry struct {
	Title   string
	Level   int
	PageNum int
}

type textStyle struct {
	Family string
	Style  string
	Size   float64
}

// NewCompiler prepares a compiler for the given course. The PDF is written
// to outputPath by Compile.
func NewCompiler(c *course.Course, outputPath string) *Compiler {
	return &Compiler{
		course:      c,
		output:      outputPath,
		headingFont: "Arial",
		textFont:    "Times",
		pageNumbers: true,
		tocTitle:    "Contents",
		pageWidth:   210, // A4 in mm
		margin:      20,
		tocStyles: map[int]textStyle{
			1: {Family: "Arial", Style: "B", Size: 14}, // modules
			2: {Family: "Arial", Style: "", Size: 12},  // chapters
			3: {Family: "Arial", Style: "", Size: 10},  // pages
		},
	}
}

// SetPageNumbers toggles the page-number footer.
func (bc *Compiler) SetPageNumbers(enable bool) {
	bc.pageNumbers = enable
}

// SetToCTitle overrides the contents page title.
func (bc *Compiler) SetToCTitle(title string) {
	bc.tocTitle = title
}

// Compile renders the course twice: a measuring pass that records where
// every heading lands, then the output pass with a contents page whose
// numbers are shifted by the contents' own length.
func (bc *Compiler) Compile() error {
	bc.newPDF()
	bc.collecting = true
	bc.toc = nil
	if err := bc.renderCourse(); err != nil {
		return fmt.Errorf("measuring course layout: %w", err)
	}

	shift := bc.tocPageCount()
	for i := range bc.toc {
		bc.toc[i].PageNum += shift
	}

	bc.newPDF()
	bc.collecting = false
	if err := bc.renderCourse(); err != nil {
		return fmt.Errorf("rendering course: %w", err)
	}

	if err := bc.pdf.OutputFileAndClose(bc.output); err != nil {
		return fmt.Errorf("writing %s: %w", bc.output, err)
	}
	return nil
}

func (bc *Compiler) newPDF() {
	bc.pdf = gofpdf.New("P", "mm", "A4", "")
	bc.pdf.SetMargins(bc.margin, bc.margin, bc.margin)
	bc.translate = bc.pdf.UnicodeTranslatorFromDescriptor("")

	if bc.pageNumbers {
		bc.pdf.SetFooterFunc(func() {
			bc.pdf.SetY(-15)
			bc.pdf.SetFont("Arial", "I", 8)
			bc.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", bc.pdf.PageNo()),
				"", 0, "C", false, 0, "")
		})
	}
}

// mark records a contents entry during the measuring pass.
func (bc *Compiler) mark(title string, level int) {
	if !bc.collecting {
		return
	}
	bc.toc = append(bc.toc, tocEntry{
		Title:   title,
		Level:   level,
		PageNum: bc.pdf.PageNo(),
	})
}

// tocEntriesPerPage is how many rows fit a contents page. Courses long
// enough to overflow the estimate drift by a page in the printed numbers.
const tocEntriesPerPage = 28

func (bc *Compiler) tocPageCount() int {
	pages := (len(bc.toc) + tocEntriesPerPage - 1) / tocEntriesPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}

func (bc *Compiler) renderToC() {
	bc.pdf.AddPage()
	bc.pdf.SetFont(bc.headingFont, "B", 24)
	bc.pdf.Cell(0, 10, bc.translate(bc.tocTitle))
	bc.pdf.Ln(20)

	contentWidth := bc.pageWidth - 2*bc.margin
	titleWidth := contentWidth * 0.85
	pageNumWidth := contentWidth * 0.15

	for _, entry := range bc.toc {
		style := bc.tocStyles[entry.Level]
		bc.pdf.SetFont(style.Family, style.Style, style.Size)

		indent := float64(entry.Level-1) * 10
		bc.pdf.SetX(bc.margin + indent)

		bc.pdf.CellFormat(
			titleWidth-indent,
			8,
			bc.translate(entry.Title),
			"", 0, "L", false, 0, "",
		)
		bc.pdf.CellFormat(
			pageNumWidth,
			8,
			fmt.Sprintf("... %d", entry.PageNum),
			"", 1, "R", false, 0, "",
		)
	}
}

func (bc *Compiler) renderTitlePage() {
	bc.pdf.AddPage()
	bc.pdf.Ln(60)
	bc.pdf.SetFont(bc.headingFont, "B", 28)
	bc.pdf.MultiCell(0, 12, bc.translate(bc.course.Name), "", "C", false)
	bc.pdf.Ln(10)
	bc.pdf.SetFont(bc.textFont, "", 13)
	bc.pdf.MultiCell(0, 7, bc.translate(bc.course.Description), "", "C", false)
	if !bc.course.CreatedAt.IsZero() {
		bc.pdf.Ln(20)
		bc.pdf.SetFont(bc.textFont, "I", 10)
		bc.pdf.MultiCell(0, 6, bc.course.CreatedAt.Format("January 2, 2006"), "", "C", false)
	}
}
