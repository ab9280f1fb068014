// Package ingest pulls report documents from a message queue and loads
// them into a database.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Message is one report document pulled from a queue.
type Message struct {
	// ID is assigned by the queue and passed back to Ack or Nack.
	ID string

	Data []byte
}

// Subscriber is the pull side of a message queue.
//
// Pull blocks until at least one message is available, the context ends,
// or the queue is drained, and returns at most max messages. A drained
// queue returns io.EOF.
type Subscriber interface {
	Pull(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string) error
}

// StreamSubscriber reads a stream of concatenated JSON documents, such as
// standard input, as a queue. Nacked message ids are kept in Nacked.
//
// Documents are decoded by a background reader so that Pull can give up on
// an idle stream when its context ends. Close stops the reader.
type StreamSubscriber struct {
	mu     sync.Mutex
	dec    *json.Decoder
	once   sync.Once
	docs   chan decoded
	stop   chan struct{}
	next   int
	done   bool
	nacked []string
}

type decoded struct {
	data json.RawMessage
	err  error
}

// NewStreamSubscriber returns a subscriber reading documents from r.
func NewStreamSubscriber(r io.Reader) *StreamSubscriber {
	return &StreamSubscriber{
		dec:  json.NewDecoder(bufio.NewReader(r)),
		docs: make(chan decoded),
		stop: make(chan struct{}),
	}
}

// read decodes documents until the stream ends, fails, or Close is called.
// The channel is closed at end of stream.
func (s *StreamSubscriber) read() {
	defer close(s.docs)
	for {
		var raw json.RawMessage
		err := s.dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case s.docs <- decoded{data: raw, err: err}:
		case <-s.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Pull waits for up to max documents. It returns early with what it has
// when the stream ends or ctx ends; with nothing pulled, an ended ctx
// returns its error. A document that is not valid JSON ends the stream
// with an error, since the decoder cannot resynchronize.
func (s *StreamSubscriber) Pull(ctx context.Context, max int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}
	s.once.Do(func() { go s.read() })
	if max <= 0 {
		max = 1
	}
	var out []Message
	for len(out) < max {
		select {
		case <-ctx.Done():
			if len(out) > 0 {
				return out, nil
			}
			return nil, ctx.Err()
		case d, ok := <-s.docs:
			if !ok {
				s.done = true
				if len(out) == 0 {
					return nil, io.EOF
				}
				return out, nil
			}
			if d.err != nil {
				s.done = true
				return out, fmt.Errorf("decode message %d: %w", s.next, d.err)
			}
			out = append(out, Message{ID: strconv.Itoa(s.next), Data: d.data})
			s.next++
		}
	}
	return out, nil
}

// Close stops the background reader once its current read returns. It does
// not close the underlying stream.
func (s *StreamSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

// Ack is a no-op: a stream cannot redeliver.
func (s *StreamSubscriber) Ack(context.Context, string) error {
	return nil
}

func (s *StreamSubscriber) Nack(_ context.Context, id string) error {
	s.mu.Lock()
	s.nacked = append(s.nacked, id)
	s.mu.Unlock()
	return nil
}

// Nacked returns the ids of rejected messages.
func (s *StreamSubscriber) Nacked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nacked...)
}
