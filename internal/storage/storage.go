package storage

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/types"
)

const dateLayout = "2006-01-02"

var ErrMalformedRecord = errors.New("malformed frame record")

// Storage records raw frames to one file per UTC day. When the day
// changes the previous file is gzipped.
type Storage struct {
	outputDir   string
	prefix      string
	logger      logrus.FieldLogger
	now         func() time.Time
	file        *os.File
	writer      *bufio.Writer
	currentDate string
	currentPath string
	mu          sync.Mutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New creates a new Storage instance
func New(outputDir string, logger logrus.FieldLogger) *Storage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Storage{
		outputDir: outputDir,
		prefix:    "modes",
		logger:    logger,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start opens today's file and starts the midnight rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.openFile(s.now().UTC().Format(dateLayout))
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.rotationTimer()
	return nil
}

// Stop flushes and closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFile()
}

// FormatFrame renders a frame as a single record line
func FormatFrame(f types.RawFrame) string {
	source := f.Source
	if source == "" {
		source = "-"
	}
	return fmt.Sprintf("%s %s *%s;\n", f.Timestamp.UTC().Format(time.RFC3339Nano), source, f.Hex)
}

// ParseFrame is the inverse of FormatFrame
func ParseFrame(line string) (types.RawFrame, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return types.RawFrame{}, ErrMalformedRecord
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return types.RawFrame{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	hex := fields[2]
	if len(hex) < 3 || hex[0] != '*' || hex[len(hex)-1] != ';' {
		return types.RawFrame{}, ErrMalformedRecord
	}
	source := fields[1]
	if source == "-" {
		source = ""
	}
	return types.RawFrame{Hex: hex[1 : len(hex)-1], Timestamp: ts, Source: source}, nil
}

// WriteFrame appends a frame to the file of its day
func (s *Storage) WriteFrame(f types.RawFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := f.Timestamp.UTC().Format(dateLayout)
	if s.file == nil {
		if err := s.openFile(date); err != nil {
			return err
		}
	} else if date > s.currentDate {
		if err := s.rotateLocked(date); err != nil {
			return err
		}
	}

	_, err := s.writer.WriteString(FormatFrame(f))
	return err
}

// Flush writes buffered records to disk
func (s *Storage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}

// CurrentPath returns the path of the file being written
func (s *Storage) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	for {
		now := s.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		midnight := time.NewTimer(nextMidnight.Sub(now))

		select {
		case <-midnight.C:
			s.mu.Lock()
			err := s.rotateLocked(nextMidnight.Format(dateLayout))
			s.mu.Unlock()
			if err != nil {
				s.logger.WithError(err).Error("Error during rotation")
			}
		case <-flush.C:
			midnight.Stop()
			if err := s.Flush(); err != nil {
				s.logger.WithError(err).Warn("Error flushing frames")
			}
		case <-s.stopChan:
			midnight.Stop()
			return
		}
	}
}

// rotateLocked closes and compresses the current file and opens the file for date
func (s *Storage) rotateLocked(date string) error {
	if date == s.currentDate && s.file != nil {
		return nil
	}

	previous := s.currentPath
	if err := s.closeFile(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if previous != "" {
		if err := compressFile(previous); err != nil {
			s.logger.WithError(err).WithField("file", previous).Error("Failed to compress file")
		} else {
			s.logger.WithField("file", previous+".gz").Info("Compressed frame log")
		}
	}
	return s.openFile(date)
}

func (s *Storage) openFile(date string) error {
	filename := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.log", s.prefix, date))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	s.file = file
	s.writer = bufio.NewWriter(file)
	s.currentDate = date
	s.currentPath = filename
	return nil
}

func (s *Storage) closeFile() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil
	s.currentPath = ""
	return errors.Join(flushErr, closeErr)
}

// compressFile gzips path to path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// Open opens a recorded file for reading, decompressing .gz files
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// ReadFrames calls fn for every record in r. Malformed lines are skipped
// and counted.
func ReadFrames(r io.Reader, fn func(types.RawFrame)) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		frame, err := ParseFrame(line)
		if err != nil {
			skipped++
			continue
		}
		fn(frame)
	}
	return skipped, scanner.Err()
}
