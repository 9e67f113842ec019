package ingest

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

// StartUDP reads datagrams of one or more newline-separated samples. It
// returns the bound address, or nil when disabled or the bind failed.
func StartUDP(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) net.Addr {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return nil
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", conn.LocalAddr().String())
	}
	go readUDP(ctx, conn, cfg, parser, out, logger)
	return conn.LocalAddr()
}

func readUDP(ctx context.Context, conn *net.UDPConn, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	defer conn.Close()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if logger != nil {
				logger.Warn("udp read error", "err", err)
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			processLine(ctx, cfg, parser, out, logger, line, "udp")
		}
	}
}
