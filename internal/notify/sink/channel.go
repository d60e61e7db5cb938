package sink

import (
	"context"

	"bondledger/internal/notify"
)

// Channel decodes entries and hands them to an in-process subscriber.
// Publish blocks while the channel is full.
type Channel struct {
	out chan<- notify.Event
}

func NewChannel(out chan<- notify.Event) *Channel {
	return &Channel{out: out}
}

func (c *Channel) Publish(ctx context.Context, entries []notify.Entry) error {
	for _, e := range entries {
		event, err := notify.Decode(e)
		if err != nil {
			return err
		}
		select {
		case c.out <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
