package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Where an encoding guess came from.
const (
	SourceDeclared  = "declared"
	SourceHeuristic = "heuristic"
	SourceDefault   = "default"
)

var xmlDeclEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*?\sencoding\s*=\s*["']([A-Za-z0-9._:\-]+)["']`)

// Detection is the result of the encoding fallback chain.
type Detection struct {
	Name     string
	Encoding encoding.Encoding // nil means the bytes are read as UTF-8
	Source   string
	Certain  bool
}

// DetectEncoding runs declared encoding, then byte heuristics, then the
// platform default over the head of a record.
func DetectEncoding(head []byte, platformDefault string) Detection {
	body := bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	if m := xmlDeclEncoding.FindSubmatch(body); m != nil {
		label := string(m[1])
		if e, _ := charset.Lookup(label); e != nil {
			return Detection{Name: strings.ToUpper(label), Encoding: passthrough(e), Source: SourceDeclared, Certain: true}
		}
	}

	e, name, certain := charset.DetermineEncoding(head, "text/xml")
	if certain {
		return Detection{Name: strings.ToUpper(name), Encoding: passthrough(e), Source: SourceHeuristic, Certain: true}
	}

	if hasHighBit(head) {
		if validUTF8Prefix(head) {
			return Detection{Name: "UTF-8", Source: SourceHeuristic}
		}
		// Best guess for 8-bit text that is not UTF-8.
		return Detection{Name: strings.ToUpper(name), Encoding: passthrough(e), Source: SourceHeuristic}
	}

	label := platformDefault
	if label == "" {
		label = "UTF-8"
	}
	def, _ := charset.Lookup(label)
	return Detection{Name: strings.ToUpper(label), Encoding: passthrough(def), Source: SourceDefault}
}

// passthrough drops UTF-8 decoders so invalid byte sequences reach the XML
// decoder as errors instead of being replaced.
func passthrough(e encoding.Encoding) encoding.Encoding {
	if e == nil || e == unicode.UTF8 || e == encoding.Nop {
		return nil
	}
	return e
}

func hasHighBit(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// validUTF8Prefix ignores a rune cut off at the end of the sniffed head.
func validUTF8Prefix(b []byte) bool {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}
