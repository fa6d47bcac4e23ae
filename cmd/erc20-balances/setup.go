package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/internal/config"
	"github.com/web3ekko/ekko-erc20/internal/pipeline"
	"github.com/web3ekko/ekko-erc20/internal/storage"
	"github.com/web3ekko/ekko-erc20/pkg/cursor"
	"github.com/web3ekko/ekko-erc20/pkg/persistence"
	"github.com/web3ekko/ekko-erc20/pkg/source"
)

// resources tracks what has to be released when the command exits
type resources struct {
	closers []func()
}

func (r *resources) add(fn func()) {
	r.closers = append(r.closers, fn)
}

// close releases in reverse order of acquisition
func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// natsConnections shares one connection per URL between the source and the sink
type natsConnections map[string]*nats.Conn

func (nc natsConnections) jetStream(url string, res *resources, log logrus.FieldLogger) (nats.JetStreamContext, error) {
	conn, ok := nc[url]
	if !ok {
		var err error
		conn, err = nats.Connect(url,
			nats.Name("erc20-balances"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.WithError(err).Warn("Disconnected from NATS")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		nc[url] = conn
		res.add(func() { conn.Close() })
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return js, nil
}

func newSource(ctx context.Context, cfg *config.Config, conns natsConnections, res *resources, log logrus.FieldLogger) (source.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceFile:
		in := os.Stdin
		if cfg.Source.Path != "-" {
			f, err := os.Open(cfg.Source.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", cfg.Source.Path, err)
			}
			res.add(func() { f.Close() })
			in = f
		}
		return source.NewFileSource(ctx, in, log), nil

	case config.SourceNATS:
		js, err := conns.jetStream(cfg.Source.NatsURL, res, log)
		if err != nil {
			return nil, err
		}
		src, err := source.NewNATSSource(ctx, js, source.NATSConfig{
			Stream:  cfg.Source.Stream,
			Subject: cfg.Source.Subject,
			Durable: cfg.Source.Durable,
		}, log)
		if err != nil {
			return nil, err
		}
		res.add(func() {
			if err := src.Close(); err != nil {
				log.WithError(err).Warn("Failed to close NATS subscription")
			}
		})
		return src, nil

	case config.SourceWebSocket:
		return source.NewWebSocketSource(ctx, source.WebSocketConfig{
			URLs:       cfg.Source.WebsocketURLs,
			Method:     cfg.Source.Method,
			RetryDelay: cfg.Source.RetryDelay,
			MaxRetries: cfg.Source.MaxRetries,
		}, log)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// newSink builds the enabled sinks in write order: DuckDB, Arrow, NATS, JSON
func newSink(ctx context.Context, cfg *config.Config, conns natsConnections, res *resources, log logrus.FieldLogger) (pipeline.Sink, error) {
	var sinks pipeline.Multi
	fail := func(err error) (pipeline.Sink, error) {
		_ = sinks.Close()
		return nil, err
	}

	if cfg.Sinks.DuckDB.Enabled {
		db, err := storage.NewDuckDBStorage(cfg.Sinks.DuckDB.Path, s3Config(cfg), log)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, pipeline.NewDuckDBSink(db))
	}

	if cfg.Sinks.Arrow.Enabled {
		arrowCfg := cfg.Sinks.Arrow
		initCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		store, err := persistence.NewMinioStorage(initCtx, persistence.MinioConfig{
			Endpoint:   arrowCfg.Endpoint,
			AccessKey:  arrowCfg.AccessKey,
			SecretKey:  arrowCfg.SecretKey,
			UseSSL:     arrowCfg.UseSSL,
			Region:     arrowCfg.Region,
			BucketName: arrowCfg.Bucket,
			BasePath:   arrowCfg.BasePath,
		})
		cancel()
		if err != nil {
			return fail(err)
		}
		writer := persistence.NewArrowWriter(persistence.ArrowWriterConfig{
			Network:       cfg.Network,
			BatchSize:     arrowCfg.BatchSize,
			FlushInterval: arrowCfg.FlushInterval,
		}, store, log)
		sinks = append(sinks, pipeline.NewArrowSink(writer))
	}

	if cfg.Sinks.NATS.Enabled {
		js, err := conns.jetStream(cfg.Sinks.NATS.URL, res, log)
		if err != nil {
			return fail(err)
		}
		sink, err := pipeline.NewNATSSink(js, pipeline.NATSSinkConfig{
			Stream:  cfg.Sinks.NATS.Stream,
			Subject: cfg.Sinks.NATS.Subject,
			MaxAge:  cfg.Sinks.NATS.MaxAge,
		}, log)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Sinks.JSON {
		sinks = append(sinks, pipeline.NewJSONSink(os.Stdout))
	}
	return sinks, nil
}

// s3Config returns the bucket settings DuckDB exports to, nil when the arrow
// sink has no endpoint configured
func s3Config(cfg *config.Config) *storage.S3Config {
	a := cfg.Sinks.Arrow
	if a.Endpoint == "" {
		return nil
	}
	return &storage.S3Config{
		Endpoint:  a.Endpoint,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		UseSSL:    a.UseSSL,
		Region:    a.Region,
		Bucket:    a.Bucket,
	}
}

func newCursorStore(ctx context.Context, cfg *config.Config, res *resources) (cursor.Store, error) {
	if cfg.RedisURL == "" {
		return cursor.NewMemoryStore(), nil
	}
	store, client, err := cursor.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	res.add(func() { client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}
