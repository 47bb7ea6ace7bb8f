// Copyright 2016 by Thorsten von Eicken, see LICENSE file
// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package spibus

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kidoman/embd"
)

// NewEmbdSPI returns an SPI backed by github.com/kidoman/embd, fixed at
// 4MHz / mode 0 / 8 bits per word -- the only combination the RFM69 needs
// and the only one embd.SPIBus here is configured for.
func NewEmbdSPI() SPI {
	return &embdSPI{embd.NewSPIBus(embd.SPIMode0, 0, 4000000, 8, 0)}
}

type embdSPI struct {
	embd.SPIBus
}

func (s *embdSPI) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *embdSPI) Speed(hz int64) error {
	if hz != 4000000 {
		return errors.New("spibus: embd backend only supports 4MHz")
	}
	return nil
}

func (s *embdSPI) Configure(mode int, bits int) error {
	if mode != Mode0 {
		return errors.New("spibus: embd backend only supports SPI mode 0")
	}
	if bits != 8 {
		return errors.New("spibus: embd backend only supports 8-bit words")
	}
	return nil
}

// NewEmbdGPIO returns a GPIO pin named name, backed by embd's digital pin
// API, or nil if the pin could not be opened.
func NewEmbdGPIO(name string) GPIO {
	p, err := embd.NewDigitalPin(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spibus: embd.NewDigitalPin(%s): %s\n", name, err)
		return nil
	}
	return &embdGPIO{p: p, dir: embd.In, edge: make(chan struct{}, 1)}
}

type embdGPIO struct {
	p    embd.DigitalPin
	dir  embd.Direction
	edge chan struct{}
}

func (g *embdGPIO) In(edge Edge) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	if edge != NoEdge {
		e := []embd.Edge{embd.EdgeNone, embd.EdgeRising, embd.EdgeFalling, embd.EdgeBoth}[edge]
		return g.p.Watch(e, g.edgeCB)
	}
	return nil
}

func (g *embdGPIO) Read() Level {
	v, _ := g.p.Read()
	return Level(v)
}

func (g *embdGPIO) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *embdGPIO) Out(level Level) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.Out
	}
	g.p.Write(int(level))
}

func (g *embdGPIO) Number() int { return g.p.N() }

func (g *embdGPIO) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}
