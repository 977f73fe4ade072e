// Package shutdown turns operator termination requests into one cancellation
// signal observed by the listener, every connection and every tracker, and
// bounds how long the process waits for them to finish.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrShutdown is the cancellation cause of Context after Trigger.
	ErrShutdown = errors.New("server shutting down")
	// ErrDrainTimeout is returned by Drain when tasks are still running at the
	// deadline.
	ErrDrainTimeout = errors.New("shutdown drain timed out")
)

type Coordinator struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
	log    logrus.FieldLogger

	mu     sync.Mutex
	reason string
	tasks  int
	idle   chan struct{}
}

func New(log logrus.FieldLogger) *Coordinator {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		idle:   make(chan struct{}),
	}
}

// Trigger starts the shutdown. Only the first call has an effect; it reports
// whether this call was the one that fired.
func (c *Coordinator) Trigger(reason string) bool {
	fired := false
	c.once.Do(func() {
		fired = true
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.log.WithField("reason", reason).Info("shutdown triggered")
		c.cancel(ErrShutdown)
	})
	return fired
}

// Done is closed once Trigger has been called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled with cause ErrShutdown on Trigger. Connections and
// trackers derive their contexts from it.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

func (c *Coordinator) Triggered() bool {
	return c.ctx.Err() != nil
}

func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Track registers a running task. The returned function marks it finished and
// may be called more than once.
func (c *Coordinator) Track() (release func()) {
	c.mu.Lock()
	c.tasks++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.tasks--
			if c.tasks == 0 {
				close(c.idle)
				c.idle = make(chan struct{})
			}
		})
	}
}

// Active is the number of tracked tasks still running.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks
}

// Drain waits until every tracked task has finished or timeout elapses.
func (c *Coordinator) Drain(timeout time.Duration) error {
	c.mu.Lock()
	if c.tasks == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	remaining := c.tasks
	c.mu.Unlock()

	c.log.WithField("tasks", remaining).Info("waiting for connections to close")

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return nil
	case <-timer.C:
		return ErrDrainTimeout
	}
}

// NotifySignals triggers the shutdown when one of sigs arrives. The returned
// function stops signal delivery.
func (c *Coordinator) NotifySignals(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			c.Trigger("signal " + sig.String())
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
