package source

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// FileSource emits the JSON-lines encoded blocks of a reader
type FileSource struct {
	base
	log logrus.FieldLogger
}

var _ Source = (*FileSource)(nil)

// NewFileSource starts reading blocks from r. Reading stops at the first
// malformed line, which is reported by Err.
func NewFileSource(ctx context.Context, r io.Reader, log logrus.FieldLogger) *FileSource {
	s := &FileSource{log: log.WithField("source", "file")}
	s.out = make(chan any)
	go s.run(ctx, r)
	return s
}

func (s *FileSource) run(ctx context.Context, r io.Reader) {
	defer close(s.out)

	var blocks int
	err := trace.ReadBlocks(r, func(block *trace.Block) error {
		if !s.emit(ctx, block) {
			return ctx.Err()
		}
		blocks++
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.WithError(err).Error("Failed to read blocks")
		s.fail(err)
		return
	}
	s.log.WithField("blocks", blocks).Debug("Finished reading blocks")
}
