package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/pkg/listeners"
	"github.com/web3ekko/ekko-erc20/pkg/source"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward blocks from websocket endpoints to a JetStream subject",
	Long: `Receives traced blocks from source.websocket_urls and publishes them to
source.subject on source.nats_url, creating source.stream when missing.
A "run" with source.kind=nats then consumes them.

Example:
  erc20-balances relay -c config.yaml`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Source.WebsocketURLs) == 0 {
		return fmt.Errorf("source.websocket_urls is required")
	}
	if cfg.Source.NatsURL == "" {
		return fmt.Errorf("source.nats_url is required")
	}
	if cfg.Source.Stream == "" {
		cfg.Source.Stream = "BLOCKS"
	}

	ctx := cmd.Context()
	log := logger.WithField("network", cfg.Network)

	res := &resources{}
	defer res.close()

	js, err := natsConnections{}.jetStream(cfg.Source.NatsURL, res, log)
	if err != nil {
		return err
	}
	relay, err := listeners.NewBlockRelay(js, listeners.RelayConfig{
		Stream:  cfg.Source.Stream,
		Subject: cfg.Source.Subject,
	}, log)
	if err != nil {
		return err
	}

	src, err := source.NewWebSocketSource(ctx, source.WebSocketConfig{
		URLs:       cfg.Source.WebsocketURLs,
		Method:     cfg.Source.Method,
		RetryDelay: cfg.Source.RetryDelay,
		MaxRetries: cfg.Source.MaxRetries,
	}, log)
	if err != nil {
		return err
	}

	err = relay.Run(ctx, src)
	log.WithFields(logrus.Fields{"published": relay.Published()}).Info("Relay stopped")
	return err
}
