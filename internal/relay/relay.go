// Package relay forwards received donations to sinks.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alexbotov/streamparticles/pkg/streamparticles"
)

// Donation is one donation received on the realtime connection of a
// streamer.
type Donation struct {
	Herotag    string                          `json:"herotag"`
	Data       streamparticles.TransactionData `json:"data"`
	ReceivedAt time.Time                       `json:"receivedAt"`
}

// Notifier is a donation sink.
type Notifier interface {
	Notify(ctx context.Context, d Donation) error
	Close() error
}

// WriterNotifier writes donations as JSON lines.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (wn *WriterNotifier) Notify(_ context.Context, d Donation) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("could not marshal donation: %w", err)
	}

	wn.mu.Lock()
	defer wn.mu.Unlock()
	if _, err := wn.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("could not write donation: %w", err)
	}
	return nil
}

// Close closes the writer when it is an io.Closer.
func (wn *WriterNotifier) Close() error {
	if c, ok := wn.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Fanout forwards every donation to all of its notifiers. A failing
// notifier does not stop delivery to the others.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, d Donation) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, n := range f {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
