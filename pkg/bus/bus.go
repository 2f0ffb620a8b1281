// Package bus adapts a pair of line-delimited streams into envelope
// channels. Inbound lines are decoded one per line, bad lines are skipped;
// outbound envelopes are funnelled through one writer so each lands as a
// single whole line.
package bus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/message"
)

// maxLine bounds a single inbound line, terminator included; read_ok
// replies on a busy cluster carry every value.
const maxLine = 16 << 20

var ErrClosed = errors.New("bus: closed")

// Read decodes envelopes from r and delivers them on out until r is
// exhausted or ctx is done. out is closed on return. A nil error means the
// input reached EOF. Lines that do not decode or exceed maxLine are skipped.
func Read(ctx context.Context, r io.Reader, out chan<- message.Envelope, log *zap.Logger) error {
	defer close(out)

	lr := &lineReader{br: bufio.NewReaderSize(r, 64<<10), max: maxLine}
	for {
		line, tooLong, err := lr.next()
		switch {
		case tooLong:
			telemetry.MalformedLines.Inc()
			log.Warn("skipping oversized line", zap.Int("limit", maxLine))
		case len(line) > 0:
			env, perr := message.Parse(line)
			if perr != nil {
				telemetry.MalformedLines.Inc()
				log.Warn("skipping malformed line", zap.ByteString("line", truncate(line, 256)), zap.Error(perr))
				break
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return nil
			}
		}

		if errors.Is(err, io.EOF) {
			log.Debug("input closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}

// lineReader splits a stream on '\n'. A line longer than max is consumed
// in full but its content dropped, so the next line still parses.
type lineReader struct {
	br  *bufio.Reader
	buf []byte
	max int
}

// next returns the next line without its terminator. The slice is only
// valid until the following call.
func (lr *lineReader) next() ([]byte, bool, error) {
	lr.buf = lr.buf[:0]
	tooLong := false
	for {
		chunk, err := lr.br.ReadSlice('\n')
		if !tooLong {
			if len(lr.buf)+len(chunk) > lr.max {
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return trimEOL(lr.buf), tooLong, err
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

// Writer serializes outbound envelopes into one sink.
type Writer struct {
	w     *bufio.Writer
	queue chan []byte
	done  chan struct{}
	log   *zap.Logger
}

func NewWriter(w io.Writer, depth int, log *zap.Logger) *Writer {
	if depth <= 0 {
		depth = 1024
	}
	return &Writer{
		w:     bufio.NewWriter(w),
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Send encodes env and queues it for writing. It fails with ErrClosed once
// the writer has stopped.
func (w *Writer) Send(ctx context.Context, env message.Envelope) error {
	line, err := message.Format(env)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.queue <- line:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued lines until ctx is done, then flushes what is already
// queued. A write error stops the writer and is returned.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case line := <-w.queue:
			if err := w.write(line); err != nil {
				return err
			}
		case <-ctx.Done():
			for {
				select {
				case line := <-w.queue:
					if err := w.write(line); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) write(line []byte) error {
	if _, err := w.w.Write(line); err != nil {
		w.log.Error("write failed", zap.Error(err))
		return fmt.Errorf("write output: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		w.log.Error("flush failed", zap.Error(err))
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
