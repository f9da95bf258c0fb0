package sessions

import "sync"

// PendingCall carries the identity of an answered call until the telephony
// service opens its media websocket, which arrives on a separate connection
// with no correlation headers.
type PendingCall struct {
	CallConnectionID string
	CallerID         string
}

// maxPendingCalls bounds the queue so a flood of answered-but-never-streamed
// calls cannot grow it without limit.
const maxPendingCalls = 64

// PendingCalls is a FIFO of answered calls awaiting their media websocket.
// The telephony service connects media immediately after the answer
// completes, so claim order matches answer order.
type PendingCalls struct {
	mu    sync.Mutex
	queue []PendingCall
}

func NewPendingCalls() *PendingCalls {
	return &PendingCalls{}
}

// Add records an answered call. When the queue is full the oldest entry is
// dropped; its media websocket is not coming.
func (p *PendingCalls) Add(pc PendingCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= maxPendingCalls {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, pc)
}

// Claim pops the oldest pending call. It reports false when nothing is
// pending, in which case the media session runs uncorrelated.
func (p *PendingCalls) Claim() (PendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return PendingCall{}, false
	}
	pc := p.queue[0]
	p.queue = p.queue[1:]
	return pc, true
}

// Len returns the number of unclaimed calls.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
