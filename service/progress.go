package service

import (
	"context"
	"footage-flow/dto"
	"sync"
)

// Notifier receives an event after every persisted change of an analysis.
type Notifier interface {
	Notify(ctx context.Context, event dto.StageEvent)
}

type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, event dto.StageEvent) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

const subscriberBuffer = 16

// Broadcaster fans stage events out to in-process waiters of one video.
// Slow subscribers miss events instead of blocking the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan dto.StageEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan dto.StageEvent]struct{})}
}

func (b *Broadcaster) Subscribe(videoID string) (<-chan dto.StageEvent, func()) {
	ch := make(chan dto.StageEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[videoID] == nil {
		b.subs[videoID] = make(map[chan dto.StageEvent]struct{})
	}
	b.subs[videoID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[videoID], ch)
			if len(b.subs[videoID]) == 0 {
				delete(b.subs, videoID)
			}
			close(ch)
		})
	}
}

func (b *Broadcaster) Notify(_ context.Context, event dto.StageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.VideoId] {
		select {
		case ch <- event:
		default:
		}
	}
}
