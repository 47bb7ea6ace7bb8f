// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package regreg implements RegReg, the gateway's uniform register dispatch
// layer: a sparse 16-bit address space over handler-backed memory ranges.
// Every observable and tunable in the system -- device info, NVS commit,
// raw RFM69 registers, PCA301 state -- is reached through a Table, which is
// also how the CLI and an optional MQTT publisher see state changes.
package regreg

import "errors"

// Errors returned by Access.
var (
	ErrNotFound = errors.New("regreg: address not found")
	ErrBusy     = errors.New("regreg: register busy")
)

// Result is what a Handler returns to tell the Table how to finish an access.
type Result int

const (
	// ResultOK means the handler fully serviced the access itself; the
	// Table does not touch Range.Data.
	ResultOK Result = iota
	// ResultProceed means the handler wants the Table to do the default
	// memcpy to/from Range.Data at AddrOffset.
	ResultProceed
	// ResultBusy aborts the whole access and surfaces ErrBusy to the caller.
	ResultBusy
	// ResultErr aborts this range's portion of the access with a generic
	// error; Access goes on with the rest of the span and reports the error
	// unless a later range in the span is handled successfully.
	ResultErr
)

// Access describes one register operation, potentially spanning several
// adjacent Ranges.
type Access struct {
	Addr       uint16 // starting address
	AddrOffset uint16 // address offset within the current range, set by Table
	Write      bool   // true for a write, false for a read
	Buf        []byte // data to write, or buffer to fill on read
	Len        int    // requested length; a handler may shrink it, never grow it
}

// Handler is invoked once per contiguous Range an Access touches. rng is the
// Range being visited so a handler can tell which sub-region it owns when
// several handlers share a base struct via AddrOffset.
type Handler func(rng *Range, acc *Access) Result

// Range is one contiguous, handler-backed region of the address space.
// [Begin, End] is inclusive, matching the source's addr_beg/addr_end pair.
type Range struct {
	Begin, End uint16
	Handler    Handler // may be nil: plain memcpy to/from Data
	Data       []byte
}

func (r *Range) contains(addr uint16) bool { return addr >= r.Begin && addr <= r.End }

// Table is an ordered collection of Ranges; insertion order establishes
// search order, matching the source's singly linked list. A plain slice is
// the idiomatic Go realization of "small ordered collection, O(N) scan,
// append-only" -- table sizes in this gateway stay in the single digits.
type Table struct {
	ranges    []*Range
	observers []Announcer
}

// Add appends a range to the table. Ranges must be pairwise non-overlapping;
// callers are responsible for this invariant (spec.md Testable Properties),
// Add does not re-sort or merge.
func (t *Table) Add(r *Range) { t.ranges = append(t.ranges, r) }

// Overlaps reports whether a hypothetical [begin,end] range would overlap
// any range already registered; useful for callers wanting to assert the
// non-overlap invariant before calling Add.
func (t *Table) Overlaps(begin, end uint16) bool {
	for _, r := range t.ranges {
		if begin <= r.End && end >= r.Begin {
			return true
		}
	}
	return false
}

// Access walks the table to service req, matching regreg.c's reg_rw byte by
// byte: for each address in the request span it finds the first owning
// range, hands it a (possibly truncated) sub-access, and continues past the
// consumed bytes. A byte with no owning range is silently skipped for both
// reads and writes, unless it's the last byte of the span with nothing found
// at all, in which case Access reports ErrNotFound.
func (t *Table) Access(req *Access) error {
	addr := req.Addr
	remaining := req.Len
	bufOff := 0
	handledAny := false
	var lastErr error

	for remaining > 0 {
		rng := t.find(addr)
		if rng == nil {
			if remaining == 1 {
				if !handledAny {
					return ErrNotFound
				}
				return lastErr
			}
			remaining--
			addr++
			continue
		}

		addrOffset := addr - rng.Begin
		span := int(rng.End-addr) + 1
		if span > remaining {
			span = remaining
		}

		sub := &Access{
			Addr:       addr,
			AddrOffset: addrOffset,
			Write:      req.Write,
			Buf:        req.Buf[bufOff : bufOff+span],
			Len:        span,
		}

		res := ResultProceed
		if rng.Handler != nil {
			res = rng.Handler(rng, sub)
		}

		switch res {
		case ResultBusy:
			return ErrBusy
		case ResultErr:
			lastErr = errors.New("regreg: handler error")
			remaining -= span
			addr += uint16(span)
			bufOff += span
			continue
		}

		// Clamp to whatever the handler reported back, per the source's
		// "handler may rewrite data_len" behavior; never grow it.
		n := sub.Len
		if n > span {
			n = span
		}

		if res == ResultProceed {
			if req.Write {
				copy(rng.Data[addrOffset:addrOffset+uint16(n)], req.Buf[bufOff:bufOff+n])
			} else {
				copy(req.Buf[bufOff:bufOff+n], rng.Data[addrOffset:addrOffset+uint16(n)])
			}
		}

		handledAny = true
		lastErr = nil
		remaining -= n
		addr += uint16(n)
		bufOff += n
	}

	return lastErr
}

func (t *Table) find(addr uint16) *Range {
	for _, r := range t.ranges {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// Announcer is implemented by observers that want to learn about register
// changes that happen outside of a direct write -- e.g. PCA301 state
// updates arriving over the radio. The CLI and the optional MQTT publisher
// both implement this.
type Announcer interface {
	Announce(addr uint16, data []byte)
}

// Announce fans a register update out to every registered observer, in
// registration order. Multi-byte announcements (e.g. a 3-byte address) must
// be emitted as a single call so observers see them atomically.
func (t *Table) Announce(addr uint16, data []byte) {
	for _, a := range t.observers {
		a.Announce(addr, data)
	}
}

// Observe registers an Announcer to receive future Announce calls.
func (t *Table) Observe(a Announcer) { t.observers = append(t.observers, a) }
