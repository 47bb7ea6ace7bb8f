// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package spibus

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// InitHost loads the periph.io host drivers; call once at startup before
// NewPeriphSPI/NewPeriphGPIO.
func InitHost() error {
	_, err := host.Init()
	return err
}

// NewPeriphSPI opens SPI port busName (e.g. "/dev/spidev0.0", or "" for the
// first available port) via periph.io/x/conn.
func NewPeriphSPI(busName string) (SPI, error) {
	port, err := spireg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("spibus: spireg.Open(%q): %w", busName, err)
	}
	return &periphSPI{port: port}, nil
}

type periphSPI struct {
	port periphspi.PortCloser
	conn periphspi.Conn
	hz   int64
	mode periphspi.Mode
	bits int
}

func (s *periphSPI) ensureConn() error {
	if s.conn != nil {
		return nil
	}
	hz := s.hz
	if hz == 0 {
		hz = 4000000
	}
	bits := s.bits
	if bits == 0 {
		bits = 8
	}
	c, err := s.port.Connect(physic.Frequency(hz)*physic.Hertz, periphspi.Mode(s.mode), bits)
	if err != nil {
		return err
	}
	s.conn = c
	return nil
}

func (s *periphSPI) Tx(w, r []byte) error {
	if err := s.ensureConn(); err != nil {
		return err
	}
	return s.conn.Tx(w, r)
}

func (s *periphSPI) Speed(hz int64) error {
	s.hz = hz
	s.conn = nil
	return nil
}

func (s *periphSPI) Configure(mode int, bits int) error {
	s.mode = periphspi.Mode(mode)
	s.bits = bits
	s.conn = nil
	return nil
}

func (s *periphSPI) Close() error { return s.port.Close() }

// NewPeriphGPIO opens GPIO pin name (e.g. "GPIO25") via periph.io's gpioreg.
func NewPeriphGPIO(name string) (GPIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("spibus: gpio pin %q not found", name)
	}
	return &periphGPIO{pin: p}, nil
}

type periphGPIO struct {
	pin gpio.PinIO
}

func (g *periphGPIO) In(edge Edge) error {
	e := gpio.NoEdge
	switch edge {
	case RisingEdge:
		e = gpio.RisingEdge
	case FallingEdge:
		e = gpio.FallingEdge
	case BothEdges:
		e = gpio.BothEdges
	}
	return g.pin.In(gpio.PullNoChange, e)
}

func (g *periphGPIO) Read() Level {
	if g.pin.Read() {
		return High
	}
	return Low
}

func (g *periphGPIO) WaitForEdge(timeout time.Duration) bool {
	return g.pin.WaitForEdge(timeout)
}

func (g *periphGPIO) Out(level Level) {
	g.pin.Out(level == High)
}

func (g *periphGPIO) Number() int { return g.pin.Number() }
