// Package record defines the per-record output row shared by extraction,
// checkpointing and reporting.
package record

// Status is the outcome of one attempted sample position.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Failure and skip reasons.
const (
	ReasonArchiveUnavailable = "archive_unavailable"
	ReasonDecodeError        = "decode_error"
	ReasonReadError          = "read_error"
	ReasonNoRecord           = "no_record"
	ReasonCancelled          = "cancelled"
)

// Metadata is one row of the output table. It is immutable once recorded.
type Metadata struct {
	Position       int    `json:"position" yaml:"position"`
	Ordinal        int64  `json:"ordinal" yaml:"ordinal"`
	Container      string `json:"container" yaml:"container"`
	Record         string `json:"record" yaml:"record"`
	Lines          int64  `json:"lines" yaml:"lines"`
	Fields         int64  `json:"fields" yaml:"fields"`
	ContainerBytes int64  `json:"container_bytes" yaml:"container_bytes"`
	RecordBytes    int64  `json:"record_bytes" yaml:"record_bytes"`
	Encoding       string `json:"encoding" yaml:"encoding"`
	RootTag        string `json:"root_tag" yaml:"root_tag"`
	Status         Status `json:"status" yaml:"status"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Succeeded reports whether the row carries extracted metadata.
func (m *Metadata) Succeeded() bool {
	return m.Status == StatusSuccess
}

// Fail marks the row failed and clears any partial statistics.
func (m *Metadata) Fail(reason string) {
	m.Status = StatusFailure
	m.Reason = reason
	m.Lines = 0
	m.Fields = 0
	m.RootTag = ""
}

// Skip marks the row skipped.
func (m *Metadata) Skip(reason string) {
	m.Status = StatusSkipped
	m.Reason = reason
}
