package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// WebSocketConfig configures a WebSocketSource
type WebSocketConfig struct {
	// URLs are tried in order; a dropped connection moves to the next one
	URLs []string
	// Method is a JSON-RPC subscription method sent after connecting. Empty sends nothing.
	Method string
	Params []any
	// RetryDelay is the wait between connection attempts
	RetryDelay time.Duration
	// MaxRetries is the number of consecutive connections without a block
	// before giving up. Zero retries forever.
	MaxRetries int
}

// JSONRPCRequest is a JSON-RPC request
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// rpcMessage covers subscription acks, notifications and errors
type rpcMessage struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WebSocketSource receives traced blocks pushed over a websocket, either as
// JSON-RPC subscription notifications or as bare JSON blocks, failing over
// between the configured URLs.
type WebSocketSource struct {
	base
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    logrus.FieldLogger
}

var _ Source = (*WebSocketSource)(nil)

// NewWebSocketSource starts connecting to the first URL
func NewWebSocketSource(ctx context.Context, cfg WebSocketConfig, log logrus.FieldLogger) (*WebSocketSource, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("websocket source requires at least one URL")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	s := &WebSocketSource{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.WithField("source", "websocket"),
	}
	s.out = make(chan any)
	go s.run(ctx)
	return s, nil
}

func (s *WebSocketSource) run(ctx context.Context) {
	defer close(s.out)

	nodeIdx := 0
	failures := 0
	for ctx.Err() == nil {
		url := s.cfg.URLs[nodeIdx]
		delivered, err := s.session(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 {
			failures = 0
		}
		failures++
		s.log.WithError(err).WithFields(logrus.Fields{
			"url":       url,
			"delivered": delivered,
			"failures":  failures,
		}).Warn("WebSocket connection ended")

		if s.cfg.MaxRetries > 0 && failures >= s.cfg.MaxRetries {
			s.fail(fmt.Errorf("%w: last error: %v", ErrRetriesExhausted, err))
			return
		}

		// Try next node on error
		nodeIdx = (nodeIdx + 1) % len(s.cfg.URLs)
		if !sleep(ctx, s.cfg.RetryDelay) {
			return
		}
	}
}

// session reads blocks from one connection until it fails
func (s *WebSocketSource) session(ctx context.Context, url string) (int, error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.WithField("url", url).Info("Connected")

	if s.cfg.Method != "" {
		req := JSONRPCRequest{JSONRPC: "2.0", Method: s.cfg.Method, Params: s.cfg.Params, ID: 1}
		if req.Params == nil {
			req.Params = []any{}
		}
		if err := conn.WriteJSON(req); err != nil {
			return 0, fmt.Errorf("subscription failed: %w", err)
		}
	}

	delivered := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read failed: %w", err)
		}

		payload, err := blockPayload(message)
		if err != nil {
			return delivered, err
		}
		if payload == nil {
			continue
		}

		block, err := trace.DecodeBlock(payload)
		if err != nil {
			s.log.WithError(err).Warn("Skipping undecodable block message")
			continue
		}
		if !s.emit(ctx, block) {
			return delivered, ctx.Err()
		}
		delivered++
	}
}

// blockPayload extracts the block JSON from a message. A nil payload means the
// message carries no block (a subscription ack).
func blockPayload(message []byte) (json.RawMessage, error) {
	var msg rpcMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		// Left for the block decoder to reject
		return message, nil
	}
	switch {
	case msg.Error != nil:
		return nil, fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
	case msg.Params != nil:
		return msg.Params.Result, nil
	case msg.ID != nil:
		return nil, nil
	default:
		return message, nil
	}
}
