package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, parser, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						// truncated or rotated
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			processLine(ctx, cfg, parser, out, logger, line, "file_tail")
		}
	}
}

// ReplayFile reads a recorded sample file once, in order, and hands each
// reading to fn. Lines that do not parse are counted and skipped.
func ReplayFile(path string, parser *Parser, cfg *config.Config, fn func(model.Reading)) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return Replay(f, parser, cfg, fn)
}

func Replay(r io.Reader, parser *Parser, cfg *config.Config, fn func(model.Reading)) (int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	accepted, failed := 0, 0
	for scanner.Scan() {
		reading, err := ParseReading(parser, scanner.Text(), cfg)
		if err != nil {
			failed++
			continue
		}
		if reading == nil {
			continue
		}
		reading.Source = "replay"
		fn(*reading)
		accepted++
	}
	if err := scanner.Err(); err != nil {
		return accepted, failed, fmt.Errorf("read replay: %w", err)
	}
	return accepted, failed, nil
}
