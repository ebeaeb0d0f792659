package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Manifest is the ordered list of selected records. It is written before
// extraction so a separate copy step can run from it.
type Manifest struct {
	GeneratedAt time.Time
	Policy      string
	Population  int64
	Size        int64
	Seed        uint64
	Stride      int64
	Start       int64
	Confidence  float64
	Margin      float64
	Proportion  float64
	Entries     []ManifestEntry
}

// ManifestEntry is one selected record. Record is empty when the container
// listing was not read while resolving the location.
type ManifestEntry struct {
	Ordinal   int64
	Container string
	Record    string
}

// WriteManifest writes a commented header followed by one tab-separated
// line per entry.
func WriteManifest(w io.Writer, m *Manifest) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# generated_at: %s\n", m.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "# policy: %s\n", m.Policy)
	fmt.Fprintf(bw, "# population: %d\n", m.Population)
	fmt.Fprintf(bw, "# size: %d\n", m.Size)
	fmt.Fprintf(bw, "# seed: %d\n", m.Seed)
	fmt.Fprintf(bw, "# stride: %d\n", m.Stride)
	fmt.Fprintf(bw, "# start: %d\n", m.Start)
	fmt.Fprintf(bw, "# confidence: %s\n", strconv.FormatFloat(m.Confidence, 'g', -1, 64))
	fmt.Fprintf(bw, "# margin: %s\n", strconv.FormatFloat(m.Margin, 'g', -1, 64))
	fmt.Fprintf(bw, "# proportion: %s\n", strconv.FormatFloat(m.Proportion, 'g', -1, 64))
	fmt.Fprintln(bw)

	for _, e := range m.Entries {
		fmt.Fprintf(bw, "%08d\t%s\t%s\n", e.Ordinal, e.Container, e.Record)
	}
	return bw.Flush()
}

// ReadManifest parses a manifest written by WriteManifest. Unknown header
// keys are ignored.
func ReadManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		switch {
		case strings.TrimSpace(text) == "":
			continue
		case strings.HasPrefix(text, "#"):
			if err := m.parseHeader(strings.TrimSpace(text[1:])); err != nil {
				return nil, fmt.Errorf("manifest line %d: %w", line, err)
			}
		default:
			parts := strings.SplitN(text, "\t", 3)
			if len(parts) < 2 {
				return nil, fmt.Errorf("manifest line %d: expected ordinal and container", line)
			}
			ord, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: %w", line, err)
			}
			e := ManifestEntry{Ordinal: ord, Container: parts[1]}
			if len(parts) == 3 {
				e.Record = parts[2]
			}
			m.Entries = append(m.Entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) parseHeader(h string) error {
	key, value, ok := strings.Cut(h, ":")
	if !ok {
		return nil
	}
	value = strings.TrimSpace(value)

	var err error
	switch strings.TrimSpace(key) {
	case "generated_at":
		m.GeneratedAt, err = time.Parse(time.RFC3339, value)
	case "policy":
		m.Policy = value
	case "population":
		m.Population, err = strconv.ParseInt(value, 10, 64)
	case "size":
		m.Size, err = strconv.ParseInt(value, 10, 64)
	case "seed":
		m.Seed, err = strconv.ParseUint(value, 10, 64)
	case "stride":
		m.Stride, err = strconv.ParseInt(value, 10, 64)
	case "start":
		m.Start, err = strconv.ParseInt(value, 10, 64)
	case "confidence":
		m.Confidence, err = strconv.ParseFloat(value, 64)
	case "margin":
		m.Margin, err = strconv.ParseFloat(value, 64)
	case "proportion":
		m.Proportion, err = strconv.ParseFloat(value, 64)
	}
	if err != nil {
		return fmt.Errorf("header %q: %w", key, err)
	}
	return nil
}
