package consumer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxLineBytes bounds a single JSONL message.
const maxLineBytes = 1 << 20

// SourceStats summarizes one pass over a LineSource.
type SourceStats struct {
	Lines     int
	Submitted int
	Rejected  int
}

// LineSource reads newline-delimited JSON reward events.
type LineSource struct {
	r       io.Reader
	decoder *Decoder

	// OnReject is called for every line that fails to decode. Optional.
	OnReject func(*DecodeError)
}

// NewLineSource creates a source reading from r.
func NewLineSource(r io.Reader, decoder *Decoder) *LineSource {
	return &LineSource{r: r, decoder: decoder}
}

// Run decodes every line and submits it to d. Blank lines are skipped and
// undecodable lines are rejected without stopping the pass. Run returns
// when the reader is exhausted, a read fails, or ctx ends.
func (s *LineSource) Run(ctx context.Context, d *Dispatcher) (SourceStats, error) {
	var stats SourceStats

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		stats.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		event, err := s.decoder.Decode(line)
		if err != nil {
			stats.Rejected++
			if s.OnReject != nil {
				decodeErr, _ := err.(*DecodeError)
				if decodeErr == nil {
					decodeErr = &DecodeError{Cause: err}
				}
				decodeErr.Line = stats.Lines
				s.OnReject(decodeErr)
			}
			continue
		}

		if err := d.Submit(ctx, event); err != nil {
			return stats, fmt.Errorf("submit line %d: %w", stats.Lines, err)
		}
		stats.Submitted++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read events: %w", err)
	}
	return stats, nil
}
