// Copyright 2017 by Thorsten von Eicken, see LICENSE file
// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package spibus

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MuxConn is a connection to a device on an SPI bus whose chip select is
// multiplexed through an extra GPIO pin rather than a dedicated hardware
// CS line. This gateway only ever talks to one radio, but test rigs that
// put the RFM69 and a second device (e.g. a second radio for range testing)
// on one bus benefit from this, and periph.io is already in the dependency
// graph for the GPIO side.
//
// A sample circuit is a 74LVC1G19 demux with the SPI CS connected to E, the
// select pin connected to A, and the two devices' CS lines on Y0 and Y1.
//
// Limitation: speed and mode are shared between both devices using a
// MuxConn pair, since they share the same underlying spi.Conn.
type MuxConn struct {
	mu     *sync.Mutex
	conn   *spi.Conn
	port   spi.Port
	selPin gpio.PinIO
	sel    gpio.Level
}

// NewMux returns two MuxConns sharing port, one selecting selPin Low and
// the other High.
func NewMux(port spi.PortCloser, selPin gpio.PinIO) (*MuxConn, *MuxConn) {
	mu := sync.Mutex{}
	var shared spi.Conn
	return &MuxConn{&mu, &shared, port, selPin, gpio.Low},
		&MuxConn{&mu, &shared, port, selPin, gpio.High}
}

// DevParams establishes (once, shared) the underlying connection's speed,
// mode and word size.
func (c *MuxConn) DevParams(maxHz int64, mode spi.Mode, bits int) (spi.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if *c.conn == nil {
		conn, err := c.port.Connect(physic.Frequency(maxHz)*physic.Hertz, mode, bits)
		if err != nil {
			return nil, err
		}
		*c.conn = conn
	}
	return c, nil
}

// Tx drives the select pin to this connection's level, then performs the
// transfer on the shared underlying connection.
func (c *MuxConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selPin.Out(c.sel)
	return (*c.conn).Tx(w, r)
}

// Close is a no-op: the underlying port outlives either half of the mux.
func (c *MuxConn) Close() error { return nil }

// Halt implements conn.Resource; there is no transfer in flight to stop.
func (c *MuxConn) Halt() error { return nil }

// Duplex implements spi.Conn.
func (c *MuxConn) Duplex() conn.Duplex { return conn.Full }

// String implements conn.Conn.
func (c *MuxConn) String() string { return "spimux.MuxConn" }

// TxPackets is not implemented; this gateway only ever issues plain Tx.
func (c *MuxConn) TxPackets(p []spi.Packet) error {
	return errors.New("spibus: MuxConn.TxPackets not implemented")
}

var _ spi.Conn = &MuxConn{}
