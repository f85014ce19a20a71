// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"sync"

	"go.uber.org/zap"
)

// serve feeds the deliveries of one subscription to a pool of prefetch
// workers, so up to prefetch handlers run at once while the broker holds
// back further deliveries. The handler is looked up per delivery, so a
// re-registration takes effect without resubscribing. serve returns once the
// transport closes the delivery stream and every worker has finished.
func (c *Client) serve(queue string, gen uint64, deliveries <-chan Message) {
	var (
		workChan = make(chan func(), 1)
		wg       sync.WaitGroup
	)

	for i := 0; i < c.cfg.Prefetch; i++ {
		wg.Add(1)

		go runner(workChan, &wg)
	}

	for msg := range deliveries {
		msg := msg

		h := c.consumers.handler(queue)
		if h == nil {
			c.log.Error("delivery without handler, rejecting", zap.String("queue", queue))

			if err := msg.Reject(); err != nil {
				c.log.Warn("reject unrouted message", zap.String("queue", queue), zap.Error(err))
			}

			continue
		}

		c.opts.metrics.Delivered(queue)

		workChan <- func() {
			h(c.ctx, msg)
		}
	}

	close(workChan)
	wg.Wait()

	c.consumers.release(queue, gen)

	if c.isClosed() {
		c.log.Debug("subscription ended", zap.String("queue", queue), zap.Uint64("generation", gen))
		return
	}

	// The transport of gen is still live: the broker canceled the consumer,
	// e.g. because its queue was deleted.
	if _, current, ok := c.conn.acquire(); ok && current == gen {
		c.log.Warn("consumer canceled by broker, re-attaching", zap.String("queue", queue), zap.Uint64("generation", gen))
	} else {
		c.log.Debug("subscription ended", zap.String("queue", queue), zap.Uint64("generation", gen))
	}

	// Claims keep this from racing the replay of a new generation into a
	// second subscription.
	go c.rearm(queue)
}

// runner executes tasks from workChan and signals completion via WaitGroup.
func runner(workChan chan func(), wg *sync.WaitGroup) {
	for work := range workChan {
		work()
	}

	wg.Done()
}
