// Package results records what happened after every pulse.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/grid"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
)

// Header is the first row of every results file.
var Header = []string{"time", "x", "y", "voltage", "status"}

// DefaultNameLayout names a results file after the minute the scan started.
const DefaultNameLayout = "2006-01-02 15:04"

// Outcome is the result of one pulse.
type Outcome struct {
	Time     time.Time
	Position grid.Position
	Voltage  int
	Status   monitor.Status
}

// Row renders o the way it is stored.
func (o Outcome) Row() []string {
	return []string{
		strconv.FormatFloat(float64(o.Time.UnixNano())/1e9, 'f', 6, 64),
		o.Position.Label(),
		strconv.Itoa(o.Position.Y),
		strconv.Itoa(o.Voltage),
		o.Status.String(),
	}
}

// Sink receives outcomes in the order they were produced.
type Sink interface {
	Record(o Outcome) error
}

// CSVLogger appends outcomes to a CSV stream. Every record is flushed so a
// crash loses nothing that was already reported.
type CSVLogger struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
}

// DefaultName returns the file name used when none is configured.
func DefaultName(start time.Time) string {
	return start.Format(DefaultNameLayout) + ".csv"
}

// Create opens path for appending, creating it if needed. The header is
// written only when the file is empty.
func Create(path string) (*CSVLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("results: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("results: stat %s: %w", path, err)
	}

	l := &CSVLogger{w: csv.NewWriter(f), closer: f}
	if info.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// NewCSVLogger writes a header and then outcomes to w.
func NewCSVLogger(w io.Writer) (*CSVLogger, error) {
	l := &CSVLogger{w: csv.NewWriter(w)}
	if err := l.writeHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CSVLogger) writeHeader() error {
	if err := l.w.Write(Header); err != nil {
		return fmt.Errorf("results: write header: %w", err)
	}
	return l.flush()
}

// Record appends one row.
func (l *CSVLogger) Record(o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(o.Row()); err != nil {
		return fmt.Errorf("results: write row: %w", err)
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.rows++
	return nil
}

// Rows returns how many outcomes were recorded.
func (l *CSVLogger) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

func (l *CSVLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flush()
}

func (l *CSVLogger) flush() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("results: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any.
func (l *CSVLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.flush()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
		l.closer = nil
	}
	return err
}

// Memory keeps outcomes in memory.
type Memory struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *Memory) Record(o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

// Outcomes returns a copy of everything recorded so far.
func (m *Memory) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes...)
}
