package botbox

import "sync"

// MessageKind discriminates sandbox messages delivered to the host.
type MessageKind int

const (
	// MessageOut carries text a script emitted via sandbox.print.
	MessageOut MessageKind = iota
	// MessageError carries text a script emitted via sandbox.error, or an
	// uncaught script error routed through the sandbox bootstrap.
	MessageError
	// MessageTerminated signals that the run requested termination; the
	// host should stop feeding ticks and input to this run.
	MessageTerminated
)

// TerminationReason is the closed set of reasons a run can terminate with.
type TerminationReason int

const (
	// ReasonExecutionQuota corresponds to the script-visible reason "exec".
	ReasonExecutionQuota TerminationReason = iota
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonExecutionQuota:
		return "execution quota exceeded"
	}
	return "unknown"
}

// Message is one sandbox-originated event: output, an error, or a
// termination signal.
type Message struct {
	Kind   MessageKind
	Text   string            // set for Out and Error
	Reason TerminationReason // set for Terminated
}

// messageFeed is the sending half of an unbounded message channel. Sends
// never block: a pump goroutine buffers between the producer side and the
// receiver channel, so a host that drains slowly (or not at all) cannot
// stall the interpreter thread.
type messageFeed struct {
	mu     sync.Mutex
	in     chan Message
	closed bool
}

// newMessageFeed returns a feed and its receiver channel. The pump exits
// and closes the receiver when the feed is closed.
func newMessageFeed() (*messageFeed, <-chan Message) {
	in := make(chan Message)
	out := make(chan Message)

	go func() {
		var pending []Message
		for {
			var send chan Message
			var next Message
			if len(pending) > 0 {
				send = out
				next = pending[0]
			}
			select {
			case m, ok := <-in:
				if !ok {
					for _, q := range pending {
						out <- q
					}
					close(out)
					return
				}
				pending = append(pending, m)
			case send <- next:
				pending = pending[1:]
			}
		}
	}()

	return &messageFeed{in: in}, out
}

// send enqueues a message. Never blocks for longer than the pump's hand-off.
// Sending on a closed feed is a silent no-op: a host that has abandoned a
// run must not crash the script still finishing inside it.
func (f *messageFeed) send(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.in <- m
}

// close stops the pump after the buffered messages are delivered.
func (f *messageFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.in)
}
