package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"

	"sentinel/internal/config"
)

// StartStream dials the upstream feed server and reads line-delimited
// records until the context is cancelled. Connection loss triggers a
// bounded reconnect loop; correlation state lives downstream, so nothing
// is reset across reconnects. The returned channel yields one error when
// the retry budget is exhausted.
func StartStream(ctx context.Context, cfg config.StreamConfig, parser *Parser, q *Queue, logger *slog.Logger) <-chan error {
	fatal := make(chan error, 1)
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("stream ingest disabled")
		}
		return fatal
	}
	if logger != nil {
		logger.Info("stream ingest enabled", "addr", cfg.Addr)
	}
	go func() {
		retries := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.DialTimeout)
			if err != nil {
				retries++
				if cfg.MaxRetries > 0 && retries >= cfg.MaxRetries {
					fatal <- fmt.Errorf("stream connect to %s: %w (retries exhausted)", cfg.Addr, err)
					return
				}
				if logger != nil {
					logger.Warn("stream connect failed, retrying",
						"addr", cfg.Addr, "retry", retries, "err", err)
				}
				if !BackoffSleep(ctx, cfg.ReconnectDelay) {
					return
				}
				continue
			}
			retries = 0
			if logger != nil {
				logger.Info("stream connected", "addr", cfg.Addr)
			}
			readStream(ctx, conn, parser, q, logger)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("stream connection lost, reconnecting", "addr", cfg.Addr)
			}
			if !BackoffSleep(ctx, cfg.ReconnectDelay) {
				return
			}
		}
	}()
	return fatal
}

func readStream(ctx context.Context, conn net.Conn, parser *Parser, q *Queue, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		q.ParseAndSend(ctx, parser, scanner.Text(), "stream")
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("stream read error", "err", err)
	}
}
