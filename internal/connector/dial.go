package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const keepAlivePeriod = 2 * time.Second

// TCPDialer dials address over TCP
func TCPDialer(address string, timeout time.Duration) DialFunc {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		configureTCP(conn, logrus.WithField("address", address))
		return conn, nil
	}
}

// TCPListener listens on address
func TCPListener(address string) ListenFunc {
	return func(ctx context.Context) (net.Listener, error) {
		var lc net.ListenConfig
		return lc.Listen(ctx, "tcp", address)
	}
}

// SerialConfig describes a serial receiver
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// SerialDialer opens a serial port. A read timeout lets the reader notice
// that the connection was closed.
func SerialDialer(cfg SerialConfig) DialFunc {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Port,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
		}
		return serialStream{port}, nil
	}
}

// serialStream reports a read timeout on a quiet port as an empty read.
// On Linux the port returns io.EOF when the timeout expires with no data.
type serialStream struct {
	io.ReadWriteCloser
}

func (s serialStream) Read(p []byte) (int, error) {
	n, err := s.ReadWriteCloser.Read(p)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

// configureTCP turns on keepalive and disables Nagle for TCP streams
func configureTCP(stream io.ReadWriteCloser, logger logrus.FieldLogger) {
	tcpConn, ok := stream.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		logger.WithError(err).Warn("Failed to set keepalive")
	}
	if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		logger.WithError(err).Warn("Failed to set keepalive period")
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		logger.WithError(err).Warn("Failed to set no delay")
	}
}
