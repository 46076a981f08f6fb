package kern

import "runtime"

// Context is a saved execution context: the point at which a suspended
// control flow resumes. The real machine saves callee-preserved
// registers and a return address; here the suspended flow is a parked
// goroutine and the context is the gate it is parked on. A context
// that has never run carries its entry function instead.
//
// A context is "live" in exactly one of two ways: its flow is running
// (nothing parked), or its flow is blocked receiving on gate. swtch
// moves a flow from the first state to the second.
type Context struct {
	gate  chan struct{}
	entry func()
}

func (c *Context) init(entry func()) {
	c.gate = make(chan struct{})
	c.entry = entry
}

// resume transfers control into c: first activation runs the entry
// function on a fresh flow, later activations unpark the flow blocked
// in swtch. The gate is unbuffered, so the handoff is direct.
func (c *Context) resume() {
	if c.entry != nil {
		f := c.entry
		c.entry = nil
		go f()
		return
	}
	c.gate <- struct{}{}
}

// swtch suspends the caller into old and transfers control to new. It
// is symmetric: it neither knows nor cares whether either side is a
// process or a scheduler. It returns when some later swtch names old
// as its new side.
//
// The lock of the process being switched away from must be held across
// this call; ownership of that lock passes to whichever flow resumes.
func swtch(old, new *Context) {
	new.resume()
	<-old.gate
}

// swtchFinal is the no-return half of swtch, used by a flow that will
// never be resumed (process exit). Control passes to new and the
// calling goroutine is torn down.
func swtchFinal(new *Context) {
	new.resume()
	runtime.Goexit()
}
