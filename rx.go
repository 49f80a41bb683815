package mqttc

import (
	"errors"
	"fmt"
)

// Input drives c: it completes a pending disconnect, or performs one
// non-blocking read and dispatches every complete packet in the RX buffer.
// Call it whenever the transport of c is readable.
//
// Bytes of an incomplete packet stay buffered until later calls complete it,
// so events do not depend on how the transport fragments the stream.
func (e *Engine) Input(c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case c.closing:
		return ErrNotPermitted
	case c.state == StateDisconnecting:
		e.teardown(c, nil, reasonGraceful)
		return nil
	case c.state == StateTCPConnected, c.state == StateConnected:
		return e.readInput(c)
	default:
		return ErrNotPermitted
	}
}

// readInput reads once from the transport. The caller holds e.mu.
func (e *Engine) readInput(c *Client) error {
	n, err := c.Transport.Read(c.rx[c.rxLen:])

	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil
	case err != nil:
		err = transportError("read", err)
		e.teardown(c, err, reasonTransport)
		return err
	case n == 0:
		e.logger.Info("connection closed by broker", LogFields{LogFieldClientID: c.ClientID})
		e.teardown(c, nil, reasonRemote)
		return nil
	}

	c.rxLen += n
	e.metrics.bytesReceived(n)

	return e.dispatch(c)
}

// dispatch decodes and delivers every complete packet buffered for c. Each
// packet is removed from the buffer before its event is raised, so a
// concurrent Input never sees it twice. The caller holds e.mu.
func (e *Engine) dispatch(c *Client) error {
	gen := c.gen

	for {
		first, body, size, err := e.nextPacket(c)
		if err != nil {
			e.logger.Warn("protocol error", LogFields{
				LogFieldClientID: c.ClientID,
				LogFieldError:    err.Error(),
			})
			e.teardown(c, err, reasonProtocol)
			return err
		}
		if size == 0 {
			return nil
		}

		t := PacketType(first >> 4)
		ev, err := decodePacket(first, body, c.ProtocolVersion)

		c.rxLen = copy(c.rx, c.rx[size:c.rxLen])

		if err != nil {
			e.teardown(c, err, reasonProtocol)
			return err
		}

		e.metrics.packetReceived(t)
		e.logger.Debug("packet received", LogFields{
			LogFieldClientID:   c.ClientID,
			LogFieldPacketType: t.String(),
			LogFieldBytes:      size,
		})

		if ev, err = e.apply(c, t, ev); err != nil {
			e.teardown(c, err, reasonProtocol)
			return err
		}

		if ev != nil {
			e.raise(c, ev)
		}

		// A refused CONNACK tears c down, and the handler ran unlocked and
		// may have aborted or reconnected it.
		if c.gen != gen || !c.active() {
			return nil
		}
	}
}

// nextPacket frames the first buffered packet of c. It returns size 0 when
// the packet is not complete yet. The returned body aliases the RX buffer.
func (e *Engine) nextPacket(c *Client) (byte, []byte, int, error) {
	data := c.rx[:c.rxLen]
	if len(data) < 2 {
		return 0, nil, 0, nil
	}

	length, n, err := decodeRemainingLength(data[1:])
	switch {
	case errors.Is(err, ErrInsufficientData):
		return 0, nil, 0, nil
	case err != nil:
		return 0, nil, 0, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}

	size := 1 + n + int(length)
	if size > len(c.rx) {
		return 0, nil, 0, fmt.Errorf("%w: %d bytes, limit %d", ErrPacketTooLarge, size, len(c.rx))
	}
	if len(data) < size {
		return 0, nil, 0, nil
	}

	return data[0], data[1+n : size], size, nil
}

// apply performs the state transitions caused by an inbound packet and
// returns the event to raise, if any. A refused CONNACK is turned into a
// teardown whose event carries the return code.
func (e *Engine) apply(c *Client, t PacketType, ev *Event) (*Event, error) {
	if c.state == StateTCPConnected && t != PacketCONNACK {
		return nil, fmt.Errorf("%w: %s before CONNACK", ErrMalformedPacket, t)
	}

	switch t {
	case PacketCONNACK:
		if c.state != StateTCPConnected {
			return nil, fmt.Errorf("%w: unexpected CONNACK", ErrMalformedPacket)
		}

		if rc := ev.Connack.ReturnCode; rc != ConnectionAccepted {
			e.logger.Warn("connection refused", LogFields{
				LogFieldClientID:   c.ClientID,
				LogFieldReturnCode: rc.String(),
			})
			e.teardown(c, &ConnectError{ReturnCode: rc}, reasonRefused)
			return nil, nil
		}

		c.state = StateConnected
		e.logger.Info("connected", LogFields{
			LogFieldClientID: c.ClientID,
			"session_present": ev.Connack.SessionPresent,
		})

	case PacketPINGRESP:
		c.pingOutstanding = false
	}

	return ev, nil
}
