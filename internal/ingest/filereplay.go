package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"sentinel/internal/config"
)

// StartFileReplay feeds recorded JSONL telemetry files through the
// pipeline. With Follow set, each file is tailed after the initial read so
// live appends keep flowing; truncation reopens from the start.
func StartFileReplay(ctx context.Context, cfg config.FileReplayConfig, parser *Parser, q *Queue, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("file replay ingest disabled")
		}
		return
	}
	for _, path := range cfg.Files {
		path := path
		if logger != nil {
			logger.Info("file replay ingest enabled", "path", path, "follow", cfg.Follow)
		}
		go replayFile(ctx, path, cfg.Follow, parser, q, logger)
	}
}

func replayFile(ctx context.Context, path string, follow bool, parser *Parser, q *Queue, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("replay open failed", "path", path, "err", err)
				}
				if !follow || !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				offset += int64(len(line))
				q.ParseAndSend(ctx, parser, line, "file_replay")
			}
			if err == nil {
				continue
			}
			if err != io.EOF {
				if logger != nil {
					logger.Warn("replay read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			if !follow {
				_ = file.Close()
				return
			}
			if !BackoffSleep(ctx, 200*time.Millisecond) {
				_ = file.Close()
				return
			}
			info, statErr := os.Stat(path)
			if statErr == nil && info.Size() < offset {
				_ = file.Close()
				file = nil
				break
			}
		}
	}
}
