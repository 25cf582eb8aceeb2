// Package alertlog reads and writes the durable text alert log, one alert per
// line:
//
//	[2006-01-02 15:04:05] [Critical] /var/log/app.log 2025-01-01 ERROR disk full
package alertlog

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

// TimeLayout is the timestamp format of the alert log, in local time.
const TimeLayout = "2006-01-02 15:04:05"

var lineRE = regexp.MustCompile(`^\[([^\]]+)\] \[([A-Za-z]+)\] (\S+) ?(.*)$`)

// Format renders one record without a trailing newline. Newlines inside the
// message are replaced so a record always occupies exactly one line.
func Format(rec model.AlertRecord) string {
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(rec.Message)
	return fmt.Sprintf("[%s] [%s] %s %s",
		rec.Timestamp.Local().Format(TimeLayout), rec.Severity, rec.Source, msg)
}

// Parse is the inverse of Format. Seq is left zero.
func Parse(line string) (model.AlertRecord, error) {
	m := lineRE.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return model.AlertRecord{}, fmt.Errorf("alertlog: malformed line %q", line)
	}
	ts, err := time.ParseInLocation(TimeLayout, m[1], time.Local)
	if err != nil {
		return model.AlertRecord{}, fmt.Errorf("alertlog: bad timestamp: %w", err)
	}
	sev, err := model.ParseSeverity(m[2])
	if err != nil {
		return model.AlertRecord{}, fmt.Errorf("alertlog: %w", err)
	}
	return model.AlertRecord{
		Timestamp: ts,
		Severity:  sev,
		Source:    m[3],
		Message:   m[4],
	}, nil
}

// ReadFile loads every well-formed record from path. A missing file yields no
// records and no error; malformed lines are counted in skipped.
func ReadFile(path string) (records []model.AlertRecord, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("alertlog: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, perr := Parse(line)
		if perr != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, skipped, fmt.Errorf("alertlog: read %s: %w", path, err)
	}
	return records, skipped, nil
}

// Writer appends formatted records to the alert log. Each record is written
// with a single unbuffered write so the file is never left half a line short
// after a crash of this process.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates the parent directory if needed and opens path for appending.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("alertlog: create directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("alertlog: open %s: %w", path, err)
	}
	return &Writer{path: path, f: f}, nil
}

func (w *Writer) Path() string { return w.path }

// Write appends one record.
func (w *Writer) Write(rec model.AlertRecord) error {
	line := Format(rec) + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("alertlog: write %s: %w", w.path, os.ErrClosed)
	}
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("alertlog: write %s: %w", w.path, err)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
