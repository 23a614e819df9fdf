package notify

import "sync"

// Context is a single-consumer handler-sequencing primitive (spec.md §5
// "serialization contexts"): any number of goroutines may call Run
// concurrently, but the queued functions always execute one at a time, in
// the order they were submitted, on at most one goroutine at a time.
//
// Used for the controller proxy's outbound send queue and for any
// observer registered via Bus.ObserveSerialized.
type Context struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func NewContext() *Context { return &Context{} }

// Run enqueues f. If no drain goroutine is currently active, Run starts
// one; otherwise f simply joins the queue the active drain will reach.
func (c *Context) Run(f func()) {
	c.mu.Lock()
	c.queue = append(c.queue, f)
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()
	go c.drain()
}

func (c *Context) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		f := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		f()
	}
}
