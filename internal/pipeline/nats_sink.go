package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/events"
)

// NATSSinkConfig configures a NATSSink
type NATSSinkConfig struct {
	Stream string
	// Subject is the prefix records are published under:
	// <subject>.transfer and <subject>.balance_change
	Subject string
	MaxAge  time.Duration
}

// NATSSink publishes every record to JetStream. Message ids are derived from
// the block hash and record position so a replayed block is deduplicated.
type NATSSink struct {
	js  nats.JetStreamContext
	cfg NATSSinkConfig
	log logrus.FieldLogger
}

// NewNATSSink creates the stream when it does not exist
func NewNATSSink(js nats.JetStreamContext, cfg NATSSinkConfig, log logrus.FieldLogger) (*NATSSink, error) {
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("nats sink requires a stream and a subject")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	log = log.WithFields(logrus.Fields{"sink": "nats", "stream": cfg.Stream})

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
		}

		log.WithField("subject", cfg.Subject).Info("Creating stream")
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   []string{cfg.Subject + ".>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			MaxAge:     cfg.MaxAge,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSSink{js: js, cfg: cfg, log: log}, nil
}

// Write publishes the transfers then the balance changes of the batch
func (s *NATSSink) Write(ctx context.Context, batch Batch) error {
	for i, t := range batch.Events.Transfers {
		id := fmt.Sprintf("%s-t-%d", batch.Clock.ID, i)
		if err := s.publish(ctx, events.RecordTypeTransfer, id, TransferRecord{RecordType: events.RecordTypeTransfer, Transfer: t}); err != nil {
			return err
		}
	}
	for i, bc := range batch.Events.BalanceChanges {
		id := fmt.Sprintf("%s-b-%d", batch.Clock.ID, i)
		if err := s.publish(ctx, events.RecordTypeBalanceChange, id, BalanceChangeRecord{RecordType: events.RecordTypeBalanceChange, BalanceChange: bc}); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"block":           batch.Clock.Number,
		"transfers":       len(batch.Events.Transfers),
		"balance_changes": len(batch.Events.BalanceChanges),
	}).Debug("Published block records")
	return nil
}

func (s *NATSSink) publish(ctx context.Context, recordType, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", recordType, err)
	}

	msg := nats.NewMsg(s.cfg.Subject + "." + recordType)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Header.Set("Record-Type", recordType)

	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s %s: %w", recordType, id, err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the caller
func (s *NATSSink) Close() error {
	return nil
}
