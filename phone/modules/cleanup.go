package modules

import "time"

// Cleanup ends any live call, drains the pipeline queue and marks gossip
// whose audio file has disappeared as inactive. It is safe to call more than once.
func (c *Controller) Cleanup() {
	c.cleanup.Once.Do(func() {
		close(c.cleanup.done)
		c.stop()

		c.mu.Lock()
		live := c.session
		c.resetLocked()
		c.mu.Unlock()

		if live != nil {
			select {
			case <-live.done:
			case <-time.After(c.opts.CaptureJoinTimeout + time.Second):
				c.logger.Warn().Msg("call session did not stop in time")
			}
		}

		if c.deps.Jobs != nil {
			if err := c.deps.Jobs.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("closing job queue")
			}
		}

		if c.deps.Gossip != nil {
			n, err := c.deps.Gossip.Reconcile()
			if err != nil {
				c.logger.Error().Err(err).Msg("reconciling gossip store")
				return
			}
			c.logger.Info().Int("deactivated", n).Msg("gossip store reconciled")
		}
	})
}
