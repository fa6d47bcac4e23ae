package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// NATSConfig configures a JetStream pull consumer of trace blocks
type NATSConfig struct {
	Stream  string
	Subject string
	Durable string
	Batch   int
	MaxWait time.Duration
}

// NATSSource pulls JSON encoded blocks from a JetStream stream.
// A message is acked when its block is committed; messages still pending at Close are
// nak'ed for redelivery.
type NATSSource struct {
	base
	sub *nats.Subscription
	cfg NATSConfig
	log logrus.FieldLogger

	pendingMu sync.Mutex
	pending   []pendingMsg
}

type pendingMsg struct {
	msg   *nats.Msg
	block uint64
}

var (
	_ Source    = (*NATSSource)(nil)
	_ Committer = (*NATSSource)(nil)
)

// NewNATSSource creates the pull subscription and starts fetching
func NewNATSSource(ctx context.Context, js nats.JetStreamContext, cfg NATSConfig, log logrus.FieldLogger) (*NATSSource, error) {
	if cfg.Subject == "" {
		return nil, errors.New("nats source requires a subject")
	}
	if cfg.Durable == "" {
		cfg.Durable = "erc20-balances"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 16
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	var opts []nats.SubOpt
	if cfg.Stream != "" {
		opts = append(opts, nats.BindStream(cfg.Stream))
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}

	s := &NATSSource{
		sub: sub,
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"source": "nats", "subject": cfg.Subject}),
	}
	s.out = make(chan any)
	go s.run(ctx)
	return s, nil
}

func (s *NATSSource) run(ctx context.Context) {
	defer close(s.out)

	for ctx.Err() == nil {
		msgs, err := s.sub.Fetch(s.cfg.Batch, nats.MaxWait(s.cfg.MaxWait))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			s.log.WithError(err).Error("Failed to fetch messages")
			s.fail(fmt.Errorf("failed to fetch from %s: %w", s.cfg.Subject, err))
			return
		}

		for _, msg := range msgs {
			block, err := trace.DecodeBlock(msg.Data)
			if err != nil {
				// Poison message: terminate it so it is not redelivered
				s.log.WithError(err).Error("Dropping undecodable block message")
				if termErr := msg.Term(); termErr != nil {
					s.log.WithError(termErr).Warn("Failed to terminate message")
				}
				continue
			}
			s.track(msg, block.Number)
			if !s.emit(ctx, block) {
				return
			}
		}
	}
}

func (s *NATSSource) track(msg *nats.Msg, block uint64) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, pendingMsg{msg: msg, block: block})
}

// Commit acks the messages of every emitted block at or below blockNum
func (s *NATSSource) Commit(blockNum uint64) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var errs []error
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.block > blockNum {
			kept = append(kept, p)
			continue
		}
		if err := p.msg.AckSync(); err != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", p.block, err))
		}
	}
	s.pending = kept
	return errors.Join(errs...)
}

// Pending returns the number of emitted blocks not yet committed
func (s *NATSSource) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Close naks the uncommitted messages and removes the pull subscription
func (s *NATSSource) Close() error {
	s.pendingMu.Lock()
	for _, p := range s.pending {
		if err := p.msg.Nak(); err != nil {
			s.log.WithError(err).WithField("block", p.block).Warn("Failed to nak block message")
		}
	}
	s.pending = nil
	s.pendingMu.Unlock()

	return s.sub.Unsubscribe()
}
