package engine

import (
	"fmt"
	"strings"
	"time"
)

// Report summarizes one conversion run. It is filled by the orchestrator
// goroutine only.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Input     string    `json:"input"`
	InputSize int64     `json:"input_size"`
	Hash      string    `json:"hash"`
	Artifact  string    `json:"artifact"`
	Index     string    `json:"index"`

	Lines        int64 `json:"lines"`         // data lines after the header
	ValidLines   int64 `json:"valid_lines"`   // lines materialized as records
	DroppedLines int64 `json:"dropped_lines"` // neither record nor session
	Sessions     int   `json:"sessions"`      // distinct power-on markers

	ParseTime time.Duration `json:"parse_time_ns"`
	WriteTime time.Duration `json:"write_time_ns"`

	Uncompressed int64   `json:"uncompressed_size"`
	Compressed   int64   `json:"compressed_size"`
	Ratio        float64 `json:"compression_ratio"`
}

// compressionRatio returns 1 - compressed/uncompressed, or 0 for an empty
// payload.
func compressionRatio(compressed, uncompressed int64) float64 {
	if uncompressed == 0 {
		return 0
	}
	return 1 - float64(compressed)/float64(uncompressed)
}

// String renders the run summary as the multi-line message text published
// at the end of a run.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File size: %d bytes\n", r.InputSize)
	fmt.Fprintf(&b, "Valid Lines: %d\n", r.ValidLines)
	fmt.Fprintf(&b, "Dropped Lines: %d\n", r.DroppedLines)
	fmt.Fprintf(&b, "Unique Flights: %d\n", r.Sessions)
	fmt.Fprintf(&b, "Process Completed in %.3f seconds\n", r.ParseTime.Seconds())
	fmt.Fprintf(&b, "Uncompressed Size: %d bytes\n", r.Uncompressed)
	fmt.Fprintf(&b, "Compressed Size: %d bytes\n", r.Compressed)
	fmt.Fprintf(&b, "Compression Ratio: %.2f%%\n", r.Ratio*100)
	return b.String()
}
