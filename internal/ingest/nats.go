package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sentinel/internal/config"
)

// StartNATS subscribes to feed envelopes published on a NATS subject.
// Reconnection is handled by the client itself.
func StartNATS(ctx context.Context, cfg config.NATSConfig, parser *Parser, q *Queue, logger *slog.Logger) error {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("nats ingest disabled")
		}
		return nil
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if logger != nil {
				logger.Info("nats reconnected")
			}
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return err
	}
	sub, err := conn.Subscribe(cfg.Subject, func(msg *nats.Msg) {
		q.ParseAndSend(ctx, parser, string(msg.Data), "nats")
	})
	if err != nil {
		conn.Close()
		return err
	}
	if logger != nil {
		logger.Info("nats ingest enabled", "url", cfg.URL, "subject", cfg.Subject)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		conn.Close()
	}()
	return nil
}
