// Package logging builds the process logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configure New.
type Options struct {
	Level  string // debug / info / warn / error
	Format string // text / json
	// Dir enables a daily log file "<Dir>/<Name>-YYYY-MM-DD.log" next to stderr.
	Dir  string
	Name string
}

// LogFormatter пише рядки у форматі "[час] [рівень] повідомлення key=value".
type LogFormatter struct{}

func (m *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(b, "[%s] [%s] %s", timestamp, entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// New returns a configured logger. The returned closer flushes the log file,
// if any.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&LogFormatter{})
	}

	if opts.Dir == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	name := opts.Name
	if name == "" {
		name = "mailbox"
	}
	file, err := NewDailyFile(opts.Dir, name)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(io.MultiWriter(file, os.Stderr))
	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// DailyFile is an io.Writer that switches to a new file when the date changes.
type DailyFile struct {
	dir  string
	name string
	now  func() time.Time

	mu     sync.Mutex
	date   string
	writer *os.File
}

func NewDailyFile(dir, name string) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	return &DailyFile{dir: dir, name: name, now: time.Now}, nil
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	date := d.now().Format("2006-01-02")
	if d.writer == nil || d.date != date {
		if d.writer != nil {
			_ = d.writer.Close()
		}
		filename := filepath.Join(d.dir, fmt.Sprintf("%s-%s.log", d.name, date))
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, err
		}
		d.writer = f
		d.date = date
	}
	return d.writer.Write(p)
}

func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	err := d.writer.Close()
	d.writer = nil
	return err
}
