package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Buffer collects events staged during a unit of work. The transaction
// runner drains it only after a successful commit, so a rollback makes
// the staged events vanish with the rest of the transaction.
type Buffer struct {
	mu     sync.Mutex
	staged []Event
}

func (b *Buffer) add(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged = append(b.staged, evt)
}

// Drain returns the staged events and empties the buffer.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.staged
	b.staged = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

type bufferKey struct{}

// WithBuffer attaches a fresh staging buffer to the context. Called by
// the transaction runner when it opens the outermost transaction.
func WithBuffer(ctx context.Context) (context.Context, *Buffer) {
	buf := &Buffer{}
	return context.WithValue(ctx, bufferKey{}, buf), buf
}

// BufferFrom returns the staging buffer carried by ctx, if any.
func BufferFrom(ctx context.Context) (*Buffer, bool) {
	buf, ok := ctx.Value(bufferKey{}).(*Buffer)
	return buf, ok
}

// Stage queues evt for publication after the enclosing transaction
// commits. Staging outside a transaction is a wiring bug: the event is
// dropped and logged rather than published ahead of a commit that may
// never happen.
func Stage(ctx context.Context, evt Event) {
	buf, ok := BufferFrom(ctx)
	if !ok {
		log.Error().Str("type", string(evt.Type())).Msg("Event staged outside a transaction; dropping")
		return
	}
	buf.add(evt)
}
