package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/russross/blackfriday/v2"
	"golang.org/x/net/html"

	"github.com/tutorforge/tutorforge/course"
)

func (bc *Compiler) renderCourse() error {
	bc.renderTitlePage()
	if !bc.collecting {
		bc.renderToC()
	}

	for mi := range bc.course.Modules {
		if err := bc.renderModule(mi, &bc.course.Modules[mi]); err != nil {
			return fmt.Errorf("module %q: %w", bc.course.Modules[mi].Name, err)
		}
	}
	return nil
}

func (bc *Compiler) renderModule(index int, mod *course.Module) error {
	bc.pdf.AddPage()
	title := fmt.Sprintf("Module %d: %s", index+1, mod.Name)
	bc.mark(title, 1)

	bc.pdf.SetFont(bc.headingFont, "B", 20)
	bc.pdf.MultiCell(0, 10, bc.translate(title), "", "L", false)
	bc.pdf.Ln(4)
	if mod.Description != "" {
		bc.pdf.SetFont(bc.textFont, "I", 11)
		bc.pdf.MultiCell(0, 6, bc.translate(bc.cleanText(mod.Description)), "", "L", false)
		bc.pdf.Ln(4)
	}

	for ci := range mod.Chapters {
		if err := bc.renderChapter(&mod.Chapters[ci]); err != nil {
			return fmt.Errorf("chapter %q: %w", mod.Chapters[ci].Title, err)
		}
	}

	if strings.TrimSpace(mod.Summary) != "" {
		bc.pdf.AddPage()
		bc.mark("Summary", 2)
		bc.pdf.SetFont(bc.headingFont, "B", 16)
		bc.pdf.MultiCell(0, 8, "Summary", "", "L", false)
		bc.pdf.Ln(3)
		if err := bc.renderMarkdown(mod.Summary); err != nil {
			return fmt.Errorf("summary: %w", err)
		}
	}

	if len(mod.Quiz) > 0 {
		bc.pdf.AddPage()
		bc.mark("Quiz", 2)
		bc.renderQuiz(mod.Quiz)
	}
	return nil
}

func (bc *Compiler) renderChapter(ch *course.Chapter) error {
	bc.pdf.AddPage()
	bc.mark(ch.Title, 2)

	bc.pdf.SetFont(bc.headingFont, "B", 16)
	bc.pdf.MultiCell(0, 8, bc.translate(ch.Title), "", "L", false)
	bc.pdf.Ln(2)
	if ch.Description != "" {
		bc.pdf.SetFont(bc.textFont, "I", 10)
		bc.pdf.MultiCell(0, 5, bc.translate(bc.cleanText(ch.Description)), "", "L", false)
		bc.pdf.Ln(4)
	}

	for pi := range ch.Pages {
		page := &ch.Pages[pi]
		bc.mark(page.Title, 3)

		bc.pdf.SetFont(bc.headingFont, "B", 13)
		bc.pdf.MultiCell(0, 7, bc.translate(page.Title), "", "L", false)
		bc.pdf.Ln(2)
		if err := bc.renderMarkdown(page.Content); err != nil {
			return fmt.Errorf("page %q: %w", page.Title, err)
		}
		bc.pdf.Ln(6)
	}
	return nil
}

func (bc *Compiler) renderQuiz(quiz []course.QuizQuestion) {
	bc.pdf.SetFont(bc.headingFont, "B", 16)
	bc.pdf.MultiCell(0, 8, "Quiz", "", "L", false)
	bc.pdf.Ln(3)

	for i, q := range quiz {
		bc.pdf.SetFont(bc.textFont, "B", 11)
		bc.pdf.MultiCell(0, 6,
			bc.translate(fmt.Sprintf("%d. %s", i+1, bc.cleanText(q.Question))),
			"", "L", false)

		if len(q.MultipleChoice) > 0 {
			bc.pdf.SetFont(bc.textFont, "", 11)
			for ci, choice := range q.MultipleChoice {
				bc.pdf.SetX(bc.margin + 6)
				label := fmt.Sprintf("%c. %s", 'A'+ci, bc.cleanText(choice))
				bc.pdf.MultiCell(0, 6, bc.translate(label), "", "L", false)
			}
		}

		bc.pdf.SetFont(bc.textFont, "I", 10)
		bc.pdf.SetX(bc.margin + 6)
		bc.pdf.MultiCell(0, 5, bc.translate("Answer: "+bc.cleanText(q.Answer)), "", "L", false)
		bc.pdf.Ln(4)
	}
}

// renderMarkdown converts markdown to HTML and walks the parsed tree into
// the PDF.
func (bc *Compiler) renderMarkdown(md string) error {
	rendered := blackfriday.Run([]byte(md))
	doc, err := html.Parse(bytes.NewReader(rendered))
	if err != nil {
		return fmt.Errorf("parsing rendered markdown: %w", err)
	}
	return bc.renderNode(doc)
}

func (bc *Compiler) renderNode(n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		text := bc.cleanText(n.Data)
		if strings.TrimSpace(text) != "" {
			bc.pdf.Write(lineHeight, bc.translate(text))
		}
		return nil

	case html.ElementNode:
		switch n.Data {
		// Headings inside page content sit below the course's own
		// structure, so they stay smaller than chapter titles.
		case "h1", "h2", "h3", "h4":
			sizes := map[string]float64{"h1": 14, "h2": 13, "h3": 12, "h4": 11}
			bc.pdf.Ln(4)
			bc.pdf.SetFont(bc.headingFont, "B", sizes[n.Data])
			if err := bc.renderChildren(n); err != nil {
				return err
			}
			bc.pdf.Ln(6)
			bc.setBodyFont()
			return nil

		case "p":
			bc.setBodyFont()
			if err := bc.renderChildren(n); err != nil {
				return err
			}
			bc.pdf.Ln(8)
			return nil

		case "em":
			bc.pdf.SetFont(bc.textFont, "I", 11)
			if err := bc.renderChildren(n); err != nil {
				return err
			}
			bc.setBodyFont()
			return nil

		case "strong":
			bc.pdf.SetFont(bc.textFont, "B", 11)
			if err := bc.renderChildren(n); err != nil {
				return err
			}
			bc.setBodyFont()
			return nil

		case "code":
			// Inline code unless the parent is a pre block, which styles
			// itself.
			if n.Parent == nil || n.Parent.Data != "pre" {
				bc.pdf.SetFont("Courier", "", 10)
				if err := bc.renderChildren(n); err != nil {
					return err
				}
				bc.setBodyFont()
				return nil
			}
			return bc.renderChildren(n)

		case "pre":
			bc.pdf.Ln(2)
			bc.pdf.SetFont("Courier", "", 9)
			bc.renderCodeBlock(n)
			bc.setBodyFont()
			bc.pdf.Ln(4)
			return nil

		case "ul", "ol":
			bc.pdf.Ln(2)
			if err := bc.renderList(n, n.Data == "ol"); err != nil {
				return err
			}
			bc.pdf.Ln(4)
			return nil

		case "table":
			return bc.renderTable(n)

		case "br":
			bc.pdf.Ln(lineHeight)
			return nil

		case "hr":
			bc.pdf.Ln(4)
			y := bc.pdf.GetY()
			bc.pdf.Line(bc.margin, y, bc.pageWidth-bc.margin, y)
			bc.pdf.Ln(4)
			return nil
		}
	}

	return bc.renderChildren(n)
}

func (bc *Compiler) renderChildren(n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := bc.renderNode(c); err != nil {
			return err
		}
	}
	return nil
}

func (bc *Compiler) renderList(n *html.Node, ordered bool) error {
	item := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		item++
		bc.pdf.SetX(bc.margin + 5)
		bc.setBodyFont()
		if ordered {
			bc.pdf.Write(lineHeight, fmt.Sprintf("%d. ", item))
		} else {
			bc.pdf.Write(lineHeight, "- ")
		}
		if err := bc.renderChildren(c); err != nil {
			return err
		}
		bc.pdf.Ln(lineHeight + 1)
	}
	return nil
}

// renderCodeBlock emits a pre block line by line so indentation survives.
func (bc *Compiler) renderCodeBlock(n *html.Node) {
	text := strings.TrimRight(getTextContent(n), "\n")
	for _, line := range strings.Split(text, "\n") {
		bc.pdf.SetX(bc.margin + 4)
		if line == "" {
			bc.pdf.Ln(4)
			continue
		}
		bc.pdf.CellFormat(0, 4, bc.translate(line), "", 1, "L", false, 0, "")
	}
}

func (bc *Compiler) setBodyFont() {
	bc.pdf.SetFont(bc.textFont, "", 11)
}

// cleanText swaps typographic punctuation for characters the PDF core
// fonts can encode.
func (bc *Compiler) cleanText(text string) string {
	text = strings.ReplaceAll(text, "‘", "'")
	text = strings.ReplaceAll(text, "’", "'")
	text = strings.ReplaceAll(text, "“", `"`)
	text = strings.ReplaceAll(text, "”", `"`)
	text = strings.ReplaceAll(text, "–", "-")
	text = strings.ReplaceAll(text, "—", "-")
	text = strings.ReplaceAll(text, "…", "...")
	text = strings.ReplaceAll(text, string(rune(0xA0)), " ") // non-breaking space
	return text
}

func getTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(getTextContent(c))
	}
	return sb.String()
}
