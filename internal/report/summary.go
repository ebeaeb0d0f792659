package report

import (
	"io"
	"math"
	"sort"
	"time"

	"archivesampler/internal/record"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// maxFailureExamples bounds the failure list in the summary.
const maxFailureExamples = 10

// Summary is the run log written at the end of a run.
type Summary struct {
	RunID       string        `yaml:"run_id"`
	Policy      string        `yaml:"policy"`
	Population  int64         `yaml:"population"`
	SampleSize  int64         `yaml:"sample_size"`
	FormulaSize int64         `yaml:"formula_size"`
	Attempted   int           `yaml:"attempted"`
	Succeeded   int           `yaml:"succeeded"`
	Failed      int           `yaml:"failed"`
	Skipped     int           `yaml:"skipped"`
	Resumed     int           `yaml:"resumed"`
	SuccessRate float64       `yaml:"success_rate"`
	FailureRate float64       `yaml:"failure_rate"`
	Tolerance   float64       `yaml:"failure_tolerance"`
	Healthy     bool          `yaml:"healthy"`
	Elapsed     time.Duration `yaml:"elapsed"`
	Throughput  float64       `yaml:"records_per_second"`
	BytesRead   string        `yaml:"bytes_read"`

	Lines  LineStats  `yaml:"lines"`
	Fields FieldStats `yaml:"fields"`

	Encodings        map[string]int `yaml:"encodings,omitempty"`
	FailureReasons   map[string]int `yaml:"failure_reasons,omitempty"`
	FailureExamples  []Failure      `yaml:"failure_examples,omitempty"`
	ProjectedLines   int64          `yaml:"projected_population_lines"`
	PopulationOnDisk int64          `yaml:"enumerated_population,omitempty"`
}

// LineStats describe line counts of successful rows.
type LineStats struct {
	Total  int64   `yaml:"total"`
	Mean   float64 `yaml:"mean"`
	Median float64 `yaml:"median"`
}

// FieldStats describe field counts of successful rows.
type FieldStats struct {
	Max  int64   `yaml:"max"`
	Mean float64 `yaml:"mean"`
}

// Failure is one failed or skipped position.
type Failure struct {
	Position  int    `yaml:"position"`
	Container string `yaml:"container"`
	Record    string `yaml:"record,omitempty"`
	Status    string `yaml:"status"`
	Reason    string `yaml:"reason"`
}

// Summarize computes the summary of rows. Identification fields (run ID,
// policy, sizes, timing) are left for the caller.
func Summarize(rows []record.Metadata, population int64, tolerance float64) Summary {
	s := Summary{
		Population: population,
		Attempted:  len(rows),
		Tolerance:  tolerance,
	}

	var (
		lines      []int64
		fieldsSum  int64
		bytesTotal int64
	)
	for _, r := range rows {
		bytesTotal += r.RecordBytes
		switch r.Status {
		case record.StatusSuccess:
			s.Succeeded++
			lines = append(lines, r.Lines)
			s.Lines.Total += r.Lines
			fieldsSum += r.Fields
			s.Fields.Max = max(s.Fields.Max, r.Fields)
			if r.Encoding != "" {
				if s.Encodings == nil {
					s.Encodings = make(map[string]int)
				}
				s.Encodings[r.Encoding]++
			}
			continue
		case record.StatusFailure:
			s.Failed++
		default:
			s.Skipped++
		}

		if s.FailureReasons == nil {
			s.FailureReasons = make(map[string]int)
		}
		s.FailureReasons[r.Reason]++
		if len(s.FailureExamples) < maxFailureExamples {
			s.FailureExamples = append(s.FailureExamples, Failure{
				Position:  r.Position,
				Container: r.Container,
				Record:    r.Record,
				Status:    string(r.Status),
				Reason:    r.Reason,
			})
		}
	}

	if s.Attempted > 0 {
		s.SuccessRate = round4(float64(s.Succeeded) / float64(s.Attempted))
		s.FailureRate = round4(float64(s.Failed) / float64(s.Attempted))
	}
	s.Healthy = float64(s.Failed) <= tolerance*float64(s.Attempted)

	if n := len(lines); n > 0 {
		s.Lines.Mean = round4(float64(s.Lines.Total) / float64(n))
		s.Lines.Median = median(lines)
		s.Fields.Mean = round4(float64(fieldsSum) / float64(n))
		s.ProjectedLines = int64(math.Round(float64(s.Lines.Total) / float64(n) * float64(population)))
	}
	s.BytesRead = humanize.IBytes(uint64(bytesTotal))
	return s
}

func median(xs []int64) float64 {
	sorted := append([]int64(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// WriteSummary encodes s as YAML.
func WriteSummary(w io.Writer, s Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
