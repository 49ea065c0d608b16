package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostrsigner/bunker"
)

var _ bunker.Transport = (*Pool)(nil)

// how long a relay gets to acknowledge a published event before we stop waiting
const confirmTimeout = 7 * time.Second

// Pool talks to relays through a go-nostr SimplePool.
type Pool struct {
	ctx  context.Context
	pool *nostr.SimplePool
}

// New creates a Pool. pool can be passed to reuse an existing one, otherwise a new one is created.
func New(ctx context.Context, pool *nostr.SimplePool) *Pool {
	if pool == nil {
		pool = nostr.NewSimplePool(ctx)
	}
	return &Pool{ctx: ctx, pool: pool}
}

// Publish sends evt to all relays. It fails only if no relay could be reached; acknowledgements
// are awaited in the background and just logged, so callers never wait on slow relays.
func (p *Pool) Publish(ctx context.Context, evt nostr.Event, relays []string) error {
	if len(relays) == 0 {
		return bunker.ErrRelayNeeded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	connected := make([]*nostr.Relay, len(relays))
	errs := make([]error, len(relays))
	wg := sync.WaitGroup{}
	for i, url := range relays {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			relay, err := p.pool.EnsureRelay(url)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", url, err)
				return
			}
			connected[i] = relay
		}(i, url)
	}
	wg.Wait()

	reached := 0
	for _, relay := range connected {
		if relay == nil {
			continue
		}
		reached++
		go p.confirm(relay, evt)
	}

	if reached == 0 {
		return fmt.Errorf("no relay reachable for %s: %w", evt.ID, errors.Join(errs...))
	}
	for _, err := range errs {
		if err != nil {
			bunker.Logger.Debug().Err(err).Str("event", evt.ID).Msg("relay unreachable")
		}
	}
	return nil
}

func (p *Pool) confirm(relay *nostr.Relay, evt nostr.Event) {
	ctx, cancel := context.WithTimeout(p.ctx, confirmTimeout)
	defer cancel()

	if err := relay.Publish(ctx, evt); err != nil {
		bunker.Logger.Debug().Err(err).Str("relay", relay.URL).Str("event", evt.ID).
			Msg("relay did not accept response")
	}
}

// Listen subscribes to kind 24133 events addressed to pubkey on relays, until ctx is done.
func (p *Pool) Listen(ctx context.Context, pubkey string, relays []string) <-chan bunker.Inbound {
	now := nostr.Now()
	events := p.pool.SubscribeMany(ctx, relays, nostr.Filter{
		Kinds: []int{nostr.KindNostrConnect},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Since: &now,
	})

	ch := make(chan bunker.Inbound)
	go func() {
		defer close(ch)
		for ie := range events {
			in := bunker.Inbound{Event: ie.Event}
			if ie.Relay != nil {
				in.Relay = ie.Relay.URL
			}
			select {
			case ch <- in:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
