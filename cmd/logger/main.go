package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/config"
	"github.com/saviobatista/modes-feed/internal/nats"
	"github.com/saviobatista/modes-feed/internal/storage"
	"github.com/saviobatista/modes-feed/internal/types"
)

// FrameSource delivers the raw frames published by the ingestor
type FrameSource interface {
	SubscribeRawFrames(handler func(*types.RawFrame)) error
}

// FrameWriter records frames
type FrameWriter interface {
	WriteFrame(f types.RawFrame) error
}

// Recorder writes every raw frame it receives to daily log files
type Recorder struct {
	writer  FrameWriter
	logger  logrus.FieldLogger
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a recorder writing to writer
func NewRecorder(writer FrameWriter, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{writer: writer, logger: logger}
}

// Subscribe starts recording the frames of source
func (r *Recorder) Subscribe(source FrameSource) error {
	if err := source.SubscribeRawFrames(r.Record); err != nil {
		return fmt.Errorf("failed to subscribe to raw frames: %w", err)
	}
	return nil
}

// Record writes one frame
func (r *Recorder) Record(f *types.RawFrame) {
	if f == nil || f.Hex == "" {
		r.failed.Add(1)
		return
	}
	if err := r.writer.WriteFrame(*f); err != nil {
		r.failed.Add(1)
		r.logger.WithError(err).Warn("Failed to write frame")
		return
	}
	r.written.Add(1)
}

// Written returns the number of frames recorded
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Failed returns the number of frames that could not be recorded
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// runLogger contains the main application logic
func runLogger() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	store := storage.New(cfg.OutputDir, logger)
	if err := store.Start(); err != nil {
		return err
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to close log file")
		}
	}()

	client, err := nats.New(cfg.NatsURL, logger)
	if err != nil {
		return err
	}

	recorder := NewRecorder(store, logger)
	if err := recorder.Subscribe(client); err != nil {
		client.Close()
		return err
	}
	logger.WithField("output_dir", cfg.OutputDir).Info("Recording raw frames")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Drain before the file is closed so in-flight frames are written
	client.Close()
	logger.WithFields(logrus.Fields{
		"written": recorder.Written(),
		"failed":  recorder.Failed(),
	}).Info("Shutting down...")
	return nil
}

func main() {
	if err := runLogger(); err != nil {
		logrus.WithError(err).Error("Logger failed")
		os.Exit(1)
	}
}
