package confirm

import "context"

// Pending is one confirmation waiting for a reply
type Pending struct {
	Request Request
	reply   chan Decision
}

// Reply delivers the decision. Only the first reply counts.
func (p *Pending) Reply(d Decision) {
	select {
	case p.reply <- d:
	default:
	}
}

// Channel hands confirmations to another goroutine and waits for the reply
type Channel struct {
	requests chan *Pending
}

// NewChannel creates an unbuffered request channel
func NewChannel() *Channel {
	return &Channel{requests: make(chan *Pending)}
}

// Requests delivers confirmations to the decision provider
func (c *Channel) Requests() <-chan *Pending {
	return c.requests
}

// Confirm sends req and blocks until a reply arrives or ctx is cancelled
func (c *Channel) Confirm(ctx context.Context, req Request) (Decision, error) {
	p := &Pending{Request: req, reply: make(chan Decision, 1)}

	select {
	case c.requests <- p:
	case <-ctx.Done():
		return Skip, ctx.Err()
	}

	select {
	case d := <-p.reply:
		return d, nil
	case <-ctx.Done():
		return Skip, ctx.Err()
	}
}
