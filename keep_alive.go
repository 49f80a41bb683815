package mqttc

import (
	"errors"
	"math"
	"time"
)

// KeepAliveForever is returned by KeepAliveTimeLeft when no ping is due.
const KeepAliveForever = time.Duration(math.MaxInt64)

// Live is the periodic liveness sweep over every registered client. It
// completes pending disconnects and sends PINGREQ to connected clients that
// have been silent for the keep-alive interval. A client whose previous
// PINGREQ is still unanswered when the next one falls due is aborted with
// ErrKeepAliveTimeout. Live returns the write errors of failed pings.
func (e *Engine) Live() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Events release the lock, so the registry may change while the sweep
	// runs. Work on a snapshot and skip clients that left meanwhile.
	var clients []*Client
	e.registry.Range(func(c *Client) bool {
		clients = append(clients, c)
		return true
	})

	var errs []error

	for _, c := range clients {
		if e.registry.Lookup(c.slot) != c || c.closing || c.pendingWrite {
			continue
		}

		switch c.state {
		case StateDisconnecting:
			e.teardown(c, nil, reasonGraceful)

		case StateConnected:
			if e.keepAliveTimeLeft(c) > 0 {
				continue
			}

			if c.pingOutstanding {
				e.logger.Warn("no PINGRESP within keep-alive", LogFields{LogFieldClientID: c.ClientID})
				e.teardown(c, ErrKeepAliveTimeout, reasonKeepAlive)
				continue
			}

			if err := e.ping(c); err != nil {
				errs = append(errs, err)
				continue
			}
			e.metrics.pingSent()
		}
	}

	return errors.Join(errs...)
}

// KeepAliveTimeLeft returns the time until Live sends the next PINGREQ for c,
// or KeepAliveForever when keep-alive is disabled or c is not connected.
// Applications use it as the poll timeout of their drive loop.
func (e *Engine) KeepAliveTimeLeft(c *Client) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.state != StateConnected {
		return KeepAliveForever
	}

	return e.keepAliveTimeLeft(c)
}

// keepAliveTimeLeft is KeepAliveTimeLeft for a connected client. The caller
// holds e.mu.
func (e *Engine) keepAliveTimeLeft(c *Client) time.Duration {
	interval := e.KeepAlive()
	if interval == 0 {
		return KeepAliveForever
	}

	elapsed := e.opts.now().Sub(c.lastActivity)
	if elapsed >= interval {
		return 0
	}

	return interval - elapsed
}
