// Copyright 2016 by Thorsten von Eicken, see LICENSE file
// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package spibus provides the thin SPI/GPIO seams the gateway drives its
// radio through, plus two concrete backends: github.com/kidoman/embd and
// periph.io/x/conn. Keeping the interfaces here, rather than importing
// either library directly from rfm69, is what lets a single binary switch
// backend by a config setting without the driver caring.
package spibus

import "time"

// SPI is a single full-duplex transfer: w and r must be the same length.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

// SPI clock polarity/phase modes, matching both embd's and periph's
// numbering.
const (
	Mode0 = 0x0 // CPOL=0, CPHA=0
	Mode1 = 0x1 // CPOL=0, CPHA=1
	Mode2 = 0x2 // CPOL=1, CPHA=0
	Mode3 = 0x3 // CPOL=1, CPHA=1
)

// GPIO is a single digital pin, usable either as the radio's interrupt
// input or as a chip-select mux selector output.
type GPIO interface {
	In(edge Edge) error
	Read() Level
	WaitForEdge(timeout time.Duration) bool
	Out(level Level)
	Number() int
}

// Level is a digital pin level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Edge selects which transition WaitForEdge watches for.
type Edge int

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)
