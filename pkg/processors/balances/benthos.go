// Package balances registers the erc20_balance_changes Benthos processor.
package balances

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/benthosdev/benthos/v4/public/service"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/balances"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

const (
	metaRecordType = "record_type"
	metaBlockNum   = "block_num"
)

func configSpec() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Infers ERC-20 balance changes from a traced block and emits one message per record.").
		Description("Each input message is a JSON encoded traced block. The output batch holds the block's " +
			"transfers followed by its balance changes, each tagged with the `" + metaRecordType + "` metadata " +
			"(`transfer` or `balance_change`). A malformed block fails the message.").
		Field(service.NewBoolField("emit_transfers").
			Description("Whether transfer records are emitted alongside balance changes.").
			Default(true))
}

func init() {
	err := service.RegisterProcessor("erc20_balance_changes", configSpec(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newBalanceProcessor(conf, mgr.Logger())
		})
	if err != nil {
		panic(err)
	}
}

type balanceProcessor struct {
	engine        *balances.Engine
	emitTransfers bool
}

func newBalanceProcessor(conf *service.ParsedConfig, logger *service.Logger) (*balanceProcessor, error) {
	emitTransfers, err := conf.FieldBool("emit_transfers")
	if err != nil {
		return nil, err
	}
	return &balanceProcessor{
		engine:        balances.NewEngine(newBenthosLogger(logger)),
		emitTransfers: emitTransfers,
	}, nil
}

// Process implements the Benthos service.Processor interface
func (p *balanceProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	data, err := msg.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	block, err := trace.DecodeBlock(data)
	if err != nil {
		return nil, err
	}
	e, err := p.engine.ProcessBlock(block)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", block.Number, err)
	}

	batch := make(service.MessageBatch, 0, e.Len())
	if p.emitTransfers {
		for _, t := range e.Transfers {
			out, err := newRecordMessage(msg, events.RecordTypeTransfer, block.Number, t)
			if err != nil {
				return nil, err
			}
			batch = append(batch, out)
		}
	}
	for _, bc := range e.BalanceChanges {
		out, err := newRecordMessage(msg, events.RecordTypeBalanceChange, block.Number, bc)
		if err != nil {
			return nil, err
		}
		batch = append(batch, out)
	}
	return batch, nil
}

func (p *balanceProcessor) Close(ctx context.Context) error {
	return nil
}

// newRecordMessage copies the input metadata onto a message carrying record
func newRecordMessage(in *service.Message, recordType string, blockNum uint64, record any) (*service.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", recordType, err)
	}
	out := in.Copy()
	out.SetBytes(data)
	out.MetaSetMut(metaRecordType, recordType)
	out.MetaSetMut(metaBlockNum, strconv.FormatUint(blockNum, 10))
	return out, nil
}

// benthosHook forwards logrus entries to the Benthos logger
type benthosHook struct {
	logger *service.Logger
}

func newBenthosLogger(logger *service.Logger) logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.AddHook(&benthosHook{logger: logger})
	return l
}

func (h *benthosHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *benthosHook) Fire(entry *logrus.Entry) error {
	if h.logger == nil {
		return nil
	}
	kv := make([]any, 0, 2*len(entry.Data))
	for k, v := range entry.Data {
		kv = append(kv, k, fmt.Sprint(v))
	}
	logger := h.logger.With(kv...)

	switch entry.Level {
	case logrus.TraceLevel:
		logger.Trace(entry.Message)
	case logrus.DebugLevel:
		logger.Debug(entry.Message)
	case logrus.InfoLevel:
		logger.Info(entry.Message)
	case logrus.WarnLevel:
		logger.Warn(entry.Message)
	default:
		logger.Error(entry.Message)
	}
	return nil
}
