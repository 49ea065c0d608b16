package bunker

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nbd-wtf/go-nostr"
)

// Inbound is an event together with the relay it was seen on.
type Inbound struct {
	Event *nostr.Event
	Relay string
}

// Run handles everything coming from inbound until it is closed or ctx is done.
//
// Events are spread over workers by sender, so different peers are served concurrently
// while the commands of any one peer are handled one at a time and in order.
func (e *Engine) Run(ctx context.Context, inbound <-chan Inbound, workers int) {
	if workers < 1 {
		workers = 1
	}

	shards := make([]chan Inbound, workers)
	wg := sync.WaitGroup{}
	for i := range shards {
		shards[i] = make(chan Inbound, 16)
		wg.Add(1)
		go func(ch chan Inbound) {
			defer wg.Done()
			for in := range ch {
				if err := e.HandleEvent(ctx, in.Event, in.Relay); err != nil {
					Logger.Warn().Err(err).Str("peer", in.Event.PubKey).Str("relay", in.Relay).
						Msg("failed to handle event")
				}
			}
		}(shards[i])
	}

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			if in.Event == nil {
				continue
			}
			shard := shards[xxhash.Sum64String(in.Event.PubKey)%uint64(workers)]
			select {
			case shard <- in:
			case <-ctx.Done():
				return
			}
		}
	}
}
