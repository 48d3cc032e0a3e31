// Package streamclient reads the NDJSON event stream a digest server
// produces for stream mode.
package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"basegraph.app/digest/internal/service"
)

// maxLine bounds one event. The done event carries the whole report.
const maxLine = 16 << 20

// ErrIncomplete means the stream ended without a done or error event.
var ErrIncomplete = errors.New("stream ended before its terminal event")

// StreamError is the server's terminal error event.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream failed: " + e.Message
}

// Consume calls fn for every event in order, terminal event included, and
// returns the done event. It pulls one line at a time, so the sender's
// buffer is the only backpressure. Consume stops early when fn fails or ctx
// is canceled.
func Consume(ctx context.Context, r io.Reader, fn func(service.StreamEvent) error) (*service.StreamEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ev service.StreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decoding event on line %d: %w", line, err)
		}
		if done, err := deliver(ev, fn); done != nil || err != nil {
			return done, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, ErrIncomplete
}

// Drain is Consume for an in-process stream, as returned by
// service.DigestService.Stream.
func Drain(ctx context.Context, events <-chan service.StreamEvent, fn func(service.StreamEvent) error) (*service.StreamEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, ErrIncomplete
			}
			if done, err := deliver(ev, fn); done != nil || err != nil {
				return done, err
			}
		}
	}
}

// deliver hands ev to fn and resolves terminal events. Both results are nil
// while the stream continues.
func deliver(ev service.StreamEvent, fn func(service.StreamEvent) error) (*service.StreamEvent, error) {
	if fn != nil {
		if err := fn(ev); err != nil {
			return nil, err
		}
	}
	switch ev.Type {
	case service.EventDone:
		return &ev, nil
	case service.EventError:
		return nil, &StreamError{Message: ev.Error}
	}
	return nil, nil
}
