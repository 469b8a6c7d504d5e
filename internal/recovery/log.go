package recovery

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/seekwell/apply-cli/internal/model"
)

// Log is the durable error sink: one JSON record per line, one file per
// day. Append-only and safe for concurrent writers; it is never read back
// by the running system.
type Log struct {
	dir string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewLog creates a JSON-lines error log rooted at dir.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "recovery: create error log dir")
	}
	return &Log{dir: dir}, nil
}

// Append writes one record to today's partition.
func (l *Log) Append(record *model.ErrorRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "recovery: marshal error record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	day := record.Timestamp.UTC().Format("2006-01-02")
	if l.file == nil || day != l.day {
		if l.file != nil {
			_ = l.file.Close()
		}
		path := filepath.Join(l.dir, "errors-"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return eris.Wrapf(err, "recovery: open error log %s", path)
		}
		l.file = f
		l.day = day
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return eris.Wrap(err, "recovery: append error record")
	}
	return nil
}

// ReadLogDir loads every record from the daily partitions under dir,
// oldest file first. Unparseable lines are skipped. Used for offline
// statistics, never by the running pipeline.
func ReadLogDir(dir string) ([]*model.ErrorRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "errors-*.jsonl"))
	if err != nil {
		return nil, eris.Wrap(err, "recovery: glob error log dir")
	}
	sort.Strings(paths)

	var records []*model.ErrorRecord
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "recovery: open error log %s", path)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var rec model.ErrorRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				continue
			}
			records = append(records, &rec)
		}
		err = scanner.Err()
		_ = f.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "recovery: read error log %s", path)
		}
	}
	return records, nil
}

// Close releases the current partition file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
