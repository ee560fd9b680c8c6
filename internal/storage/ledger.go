package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/valyala/fastjson"

	"github.com/DefectiveCube/XPlaneGen/internal/engine"
)

// LedgerFile is the per-directory history of runs, one JSON object per line.
const LedgerFile = "runs.jsonl"

// RunEntry is the part of a ledger line that LoadRuns reads back.
type RunEntry struct {
	RunID        string
	StartedAt    time.Time
	Input        string
	Hash         string
	ValidLines   int64
	DroppedLines int64
	Sessions     int
	Uncompressed int64
	Compressed   int64
	Ratio        float64
}

var ledgerParser fastjson.ParserPool

// AppendRun adds r to the ledger in dir. Its signature matches
// engine.LedgerFunc.
func AppendRun(dir string, r *engine.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(filepath.Join(dir, LedgerFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadRuns reads the ledger in dir, oldest first. A missing ledger yields no
// entries; lines that fail to parse are skipped.
func LoadRuns(dir string) ([]RunEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, LedgerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	p := ledgerParser.Get()
	defer ledgerParser.Put(p)

	var runs []RunEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		v, err := p.ParseBytes(sc.Bytes())
		if err != nil || v.Type() != fastjson.TypeObject {
			continue
		}
		started, _ := time.Parse(time.RFC3339Nano, string(v.GetStringBytes("started_at")))
		runs = append(runs, RunEntry{
			RunID:        string(v.GetStringBytes("run_id")),
			StartedAt:    started,
			Input:        string(v.GetStringBytes("input")),
			Hash:         string(v.GetStringBytes("hash")),
			ValidLines:   v.GetInt64("valid_lines"),
			DroppedLines: v.GetInt64("dropped_lines"),
			Sessions:     v.GetInt("sessions"),
			Uncompressed: v.GetInt64("uncompressed_size"),
			Compressed:   v.GetInt64("compressed_size"),
			Ratio:        v.GetFloat64("compression_ratio"),
		})
	}
	return runs, sc.Err()
}
