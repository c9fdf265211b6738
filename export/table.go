package export

import (
	"strings"

	"golang.org/x/net/html"
)

// renderTable lays out a parsed HTML table as bordered cells. Column
// widths split the content width evenly; row height follows the tallest
// wrapped cell.
func (bc *Compiler) renderTable(table *html.Node) error {
	rows := collectTableRows(table)
	if len(rows) == 0 {
		return nil
	}

	colCount := len(rows[0])
	if colCount == 0 {
		return nil
	}
	colWidth := (bc.pageWidth - 2*bc.margin) / float64(colCount)
	const cellPadding = 2.0
	const cellLine = 5.0

	bc.pdf.Ln(4)
	for rowIndex, row := range rows {
		if rowIndex == 0 {
			bc.pdf.SetFont(bc.headingFont, "B", 10)
		} else {
			bc.pdf.SetFont(bc.textFont, "", 10)
		}

		// First pass over the row finds its height.
		maxLines := 1
		wrapped := make([][]string, len(row))
		for i, cell := range row {
			wrapped[i] = bc.splitText(bc.cleanText(cell), colWidth-2*cellPadding)
			if len(wrapped[i]) > maxLines {
				maxLines = len(wrapped[i])
			}
		}
		rowHeight := float64(maxLines)*cellLine + 2*cellPadding

		if bc.pdf.GetY()+rowHeight > 297-bc.margin { // A4 height in mm
			bc.pdf.AddPage()
		}

		x := bc.margin
		y := bc.pdf.GetY()
		for i, lines := range wrapped {
			if i >= colCount {
				break
			}
			bc.pdf.Rect(x, y, colWidth, rowHeight, "D")
			bc.pdf.SetXY(x+cellPadding, y+cellPadding)
			for _, line := range lines {
				bc.pdf.CellFormat(colWidth-2*cellPadding, cellLine,
					bc.translate(line), "", 2, "L", false, 0, "")
			}
			x += colWidth
		}
		bc.pdf.SetXY(bc.margin, y+rowHeight)
	}
	bc.pdf.Ln(4)
	bc.setBodyFont()
	return nil
}

func collectTableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					row = append(row, strings.TrimSpace(getTextContent(c)))
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

// splitText wraps text into lines that fit the given width with the
// current font.
func (bc *Compiler) splitText(text string, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		candidate := line + " " + word
		if bc.pdf.GetStringWidth(bc.translate(candidate)) > width {
			lines = append(lines, line)
			line = word
			continue
		}
		line = candidate
	}
	return append(lines, line)
}
