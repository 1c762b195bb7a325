package knowledge

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New()

type heading struct {
	level int
	start int // offset of the first byte of the heading line
	title string
}

// topLevelHeadings returns headings that are direct children of the
// document, so "## " lines inside code fences, lists or quotes are ignored.
func topLevelHeadings(doc []byte) []heading {
	root := markdownParser.Parser().Parse(text.NewReader(doc))

	var out []heading
	cursor := 0
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if n.Kind() != ast.KindHeading {
			if end := blockEnd(n); end > cursor {
				cursor = end
			}
			continue
		}
		h := n.(*ast.Heading)
		lines := h.Lines()
		if lines.Len() > 0 {
			out = append(out, heading{
				level: h.Level,
				start: lineStart(doc, lines.At(0).Start),
				title: strings.TrimSpace(string(lines.Value(doc))),
			})
			cursor = lines.At(lines.Len() - 1).Stop
			continue
		}

		// Порожній заголовок ("##") не має сегментів, шукаємо його рядок після
		// попереднього блоку. Він все одно закриває попередню секцію.
		start, end, ok := nextEmptyHeading(doc, cursor)
		if !ok {
			continue
		}
		out = append(out, heading{level: h.Level, start: start})
		cursor = end
	}
	return out
}

// blockEnd returns the end offset of the last source line inside n.
func blockEnd(n ast.Node) int {
	end := 0
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		if lines := c.Lines(); lines.Len() > 0 {
			if stop := lines.At(lines.Len() - 1).Stop; stop > end {
				end = stop
			}
		}
		return ast.WalkContinue, nil
	})
	return end
}

var emptyATXHeading = regexp.MustCompile(`(?m)^ {0,3}#{1,6}[ \t]*#*[ \t]*\r?$`)

// nextEmptyHeading finds the first title-less ATX heading line at or after from.
func nextEmptyHeading(doc []byte, from int) (start, end int, ok bool) {
	from = lineStart(doc, from)
	loc := emptyATXHeading.FindIndex(doc[from:])
	if loc == nil {
		return 0, 0, false
	}
	return from + loc[0], from + loc[1], true
}

func lineStart(doc []byte, pos int) int {
	if i := bytes.LastIndexByte(doc[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// upsertSection replaces the section titled exactly name (level 2) up to the
// next heading of level 2 or higher, or appends it at the end.
func upsertSection(doc []byte, name, content string) []byte {
	block := "## " + name + "\n" + strings.TrimRight(content, "\n") + "\n"

	headings := topLevelHeadings(doc)
	for i, h := range headings {
		if h.level != 2 || h.title != name {
			continue
		}

		end := len(doc)
		for _, next := range headings[i+1:] {
			if next.level <= 2 {
				end = next.start
				break
			}
		}

		var out bytes.Buffer
		out.Write(doc[:h.start])
		out.WriteString(block)
		if end < len(doc) {
			out.WriteString("\n")
		}
		out.Write(doc[end:])
		return out.Bytes()
	}

	trimmed := bytes.TrimRight(doc, "\n")
	if len(trimmed) == 0 {
		return []byte(block)
	}
	var out bytes.Buffer
	out.Write(trimmed)
	out.WriteString("\n\n")
	out.WriteString(block)
	return out.Bytes()
}
