package extract

import (
	"encoding/xml"
	"errors"
	"io"
	"unicode/utf8"
)

// maxRootTagLen bounds the root tag written to the output table.
const maxRootTagLen = 100

// Structure holds the structural statistics of one document.
type Structure struct {
	RootTag string
	Fields  int64 // leaf elements
}

// ScanStructure walks the token stream of an XML document without building a
// tree. A leaf element is one with no child elements.
func ScanStructure(r io.Reader) (Structure, error) {
	dec := xml.NewDecoder(r)
	// Input has already been transcoded to UTF-8.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var (
		s     Structure
		stack []bool // per open element: has a child element
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Structure{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && s.RootTag == "" {
				s.RootTag = qualifiedName(t.Name)
			}
			if len(stack) > 0 {
				stack[len(stack)-1] = true
			}
			stack = append(stack, false)
		case xml.EndElement:
			if !stack[len(stack)-1] {
				s.Fields++
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) != 0 {
		return Structure{}, io.ErrUnexpectedEOF
	}
	return s, nil
}

// qualifiedName renders a name as {namespace}local when namespaced.
func qualifiedName(n xml.Name) string {
	name := n.Local
	if n.Space != "" {
		name = "{" + n.Space + "}" + n.Local
	}
	return truncateRunes(name, maxRootTagLen)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// lineCounter counts non-blank newline-delimited lines and bytes passing through it.
type lineCounter struct {
	r      io.Reader
	bytes  int64
	lines  int64
	inLine bool // current line has a non-blank byte
}

func (c *lineCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bytes += int64(n)
	for _, b := range p[:n] {
		switch b {
		case '\n':
			if c.inLine {
				c.lines++
			}
			c.inLine = false
		case ' ', '\t', '\r', '\f', '\v':
		default:
			c.inLine = true
		}
	}
	return n, err
}

// Lines returns the count including an unterminated last line.
func (c *lineCounter) Lines() int64 {
	if c.inLine {
		return c.lines + 1
	}
	return c.lines
}
