package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

const streamMaxLen = 10000

// SignalBus implements domain.SignalBus in process. Slow subscribers drop
// messages instead of blocking publishers. Stream IDs follow Redis'
// "<unix ms>-<seq>" form so cursors are interchangeable between backends.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	last    streamID
	now     func() time.Time
}

// NewSignalBus creates a SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		now:     time.Now,
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := streamID{ms: uint64(b.now().UnixMilli())}
	if id.ms <= b.last.ms {
		id = streamID{ms: b.last.ms, seq: b.last.seq + 1}
	}
	b.last = id

	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      id.String(),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > streamMaxLen {
		msgs = msgs[len(msgs)-streamMaxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages with an ID after lastID. "" and
// "0" read from the beginning; a bare millisecond timestamp reads everything
// appended after it.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	after := parseStreamID(lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if !after.less(parseStreamID(m.ID)) {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

type streamID struct {
	ms, seq uint64
}

func (id streamID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id streamID) less(o streamID) bool {
	return id.ms < o.ms || (id.ms == o.ms && id.seq < o.seq)
}

// parseStreamID reads "<ms>" or "<ms>-<seq>". Anything else is the zero ID.
func parseStreamID(s string) streamID {
	msPart, seqPart, _ := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return streamID{}
	}
	seq, _ := strconv.ParseUint(seqPart, 10, 64)
	return streamID{ms: ms, seq: seq}
}

var _ domain.SignalBus = (*SignalBus)(nil)
