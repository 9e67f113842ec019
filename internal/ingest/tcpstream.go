package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
	"fallguard/internal/normalize"
)

// StartTCPStream accepts long-lived wearable connections carrying
// newline-delimited samples. It returns the listener address, or nil when
// disabled or the listen failed.
func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) net.Addr {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "addr", current.Addr, "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest listening", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			s := &streamSession{conn: conn, cfg: cfg, parser: parser, out: out, logger: logger}
			go s.serve(ctx)
		}
	}()
	return ln.Addr()
}

// streamSession is one wearable connection. A leading "hello <device>" line
// binds the connection so later samples may omit the device field.
type streamSession struct {
	conn   net.Conn
	cfg    *config.Manager
	parser *Parser
	out    chan<- model.Reading
	logger *slog.Logger

	device   string
	accepted int
	failed   int
}

func (s *streamSession) serve(ctx context.Context) {
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for {
		s.extendDeadline()
		if !scanner.Scan() {
			break
		}
		s.handle(ctx, scanner.Text())
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && s.logger != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			s.logger.Info("tcp stream idle, closing", "remote", s.conn.RemoteAddr().String(), "device_id", s.device)
		} else {
			s.logger.Warn("tcp stream read error", "err", err)
		}
	}
	if s.logger != nil {
		s.logger.Debug("tcp stream closed", "device_id", s.device, "accepted", s.accepted, "failed", s.failed)
	}
}

func (s *streamSession) extendDeadline() {
	idle := s.cfg.Get().Ingest.TCPStream.IdleTimeoutMs
	if idle <= 0 {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Duration(idle) * time.Millisecond))
}

func (s *streamSession) handle(ctx context.Context, line string) {
	if device, ok := helloDevice(line); ok {
		s.device = device
		if s.logger != nil {
			s.logger.Info("tcp stream bound", "device_id", device, "remote", s.conn.RemoteAddr().String())
		}
		return
	}
	fields, err := s.parser.ParseLine(line)
	if err != nil {
		s.failed++
		if s.logger != nil {
			s.logger.Warn("sample parse error", "source", "tcp_stream", "err", err)
		}
		return
	}
	if fields == nil {
		return
	}
	if fields.DeviceID == "" {
		fields.DeviceID = s.device
	}
	r, err := normalize.Normalize(*fields, s.cfg.Get())
	if err != nil {
		s.failed++
		if s.logger != nil {
			s.logger.Warn("sample normalize error", "source", "tcp_stream", "err", err)
		}
		return
	}
	r.Source = "tcp_stream"
	if SendNonBlocking(ctx, s.out, r, s.logger) {
		s.accepted++
	}
}

func helloDevice(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "hello") {
		return "", false
	}
	return parts[1], true
}
