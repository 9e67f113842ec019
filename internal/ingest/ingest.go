package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
	"fallguard/internal/normalize"
)

var errDropped = errors.New("sample dropped")

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("sample channel full, dropping sample", "device_id", r.DeviceID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ParseReading runs one raw line through the parser and normalizer. A nil
// reading with a nil error means the line carried nothing (blank or header).
func ParseReading(parser *Parser, line string, cfg *config.Config) (*model.Reading, error) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return nil, err
	}
	r, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger, line, source string) {
	r, err := ParseReading(parser, line, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("sample parse error", "source", source, "err", err)
		}
		return
	}
	if r == nil {
		return
	}
	r.Source = source
	SendNonBlocking(ctx, out, *r, logger)
}
