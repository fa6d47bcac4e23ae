// Package listeners forwards blocks received from a live source to NATS.
package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/source"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// RelayConfig configures a BlockRelay
type RelayConfig struct {
	Stream  string
	Subject string
	MaxAge  time.Duration
}

// BlockRelay republishes the blocks of a source to a JetStream subject, where
// a NATS source can consume them. Blocks are deduplicated by hash.
type BlockRelay struct {
	js  nats.JetStreamContext
	cfg RelayConfig
	log logrus.FieldLogger

	published int
}

// NewBlockRelay makes sure the stream exists
func NewBlockRelay(js nats.JetStreamContext, cfg RelayConfig, log logrus.FieldLogger) (*BlockRelay, error) {
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("block relay requires a stream and a subject")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	log = log.WithFields(logrus.Fields{"component": "block_relay", "subject": cfg.Subject})

	_, err := js.StreamInfo(cfg.Stream)
	if err == nats.ErrStreamNotFound {
		log.WithField("stream", cfg.Stream).Info("Creating stream")
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   []string{cfg.Subject},
			Storage:    nats.FileStorage,
			MaxAge:     cfg.MaxAge,
			Duplicates: 10 * time.Minute,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set up stream %s: %w", cfg.Stream, err)
	}

	return &BlockRelay{js: js, cfg: cfg, log: log}, nil
}

// Run publishes every block of src until it ends or ctx is done
func (r *BlockRelay) Run(ctx context.Context, src source.Source) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-src.Out():
			if !ok {
				return src.Err()
			}
			block, ok := item.(*trace.Block)
			if !ok {
				return fmt.Errorf("unexpected source item %T", item)
			}
			if err := r.publish(ctx, block); err != nil {
				return err
			}
		}
	}
}

func (r *BlockRelay) publish(ctx context.Context, block *trace.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block %d: %w", block.Number, err)
	}

	msg := nats.NewMsg(r.cfg.Subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, block.Clock().ID)

	ack, err := r.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish block %d: %w", block.Number, err)
	}
	if ack.Duplicate {
		r.log.WithField("block", block.Number).Debug("Block already relayed")
		return nil
	}

	r.published++
	r.log.WithFields(logrus.Fields{"block": block.Number, "seq": ack.Sequence}).Debug("Relayed block")
	return nil
}

// Published returns the number of blocks stored by the stream so far
func (r *BlockRelay) Published() int {
	return r.published
}
