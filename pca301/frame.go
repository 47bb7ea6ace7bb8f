// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package pca301 implements the ELV PCA301 remote power outlet protocol:
// fixed 12-byte frames carried over an RFM69 radio, a single-outstanding-
// request state machine with retries on a fixed response timeout, and the pairing and
// auto-poll-on-switch behaviors the outlets expect.
package pca301

import (
	"encoding/binary"

	"github.com/mcbachmann/pca301gw/crc16"
)

// Wire command bytes, as sent/received in Frame.Cmd.
const (
	CmdPoll   = 4
	CmdSwitch = 5
	CmdIdent  = 6
	CmdPair   = 17
)

// Switch data values for CmdSwitch and the state half of CmdPoll replies.
const (
	SwitchOff = 0
	SwitchOn  = 1
)

// PollStatsReset is the Data value that, sent with CmdPoll, asks the
// outlet to reset its internal consumption counters.
const PollStatsReset = 1

// Sentinel consumption values a station (gateway) puts in the frames it
// sends, marking them as station traffic rather than an outlet's reply, so
// a gateway can filter out echoes of station frames.
const (
	IDStation        = 0xffff
	IDStationMonitor = 0xaaaa
)

// ChanNone marks an outlet that has not yet been assigned a channel.
const ChanNone = 0

// FrameLen is the fixed wire size of a PCA301 frame.
const FrameLen = 12

// crcPoly is the CRC16 polynomial PCA301 frames are checked against.
const crcPoly = crc16.PolyPCA301

// Frame is one 12-byte PCA301 protocol frame: channel, command, a 3-byte
// outlet address, a data byte, two big-endian consumption counters, and a
// trailing big-endian CRC16 over everything before it.
type Frame struct {
	Chan      byte
	Cmd       byte
	Addr      [3]byte
	Data      byte
	Cons      uint16 // current consumption, Wh
	ConsTotal uint16 // cumulative consumption, kWh
	CRC       uint16
}

// Encode serializes f into its 12-byte wire form, filling in CRC from the
// rest of the fields -- callers never need to compute it themselves.
func (f *Frame) Encode() [FrameLen]byte {
	var raw [FrameLen]byte
	raw[0] = f.Chan
	raw[1] = f.Cmd
	copy(raw[2:5], f.Addr[:])
	raw[5] = f.Data
	binary.BigEndian.PutUint16(raw[6:8], f.Cons)
	binary.BigEndian.PutUint16(raw[8:10], f.ConsTotal)
	f.CRC = crc16.Compute(raw[:10], crcPoly)
	binary.BigEndian.PutUint16(raw[10:12], f.CRC)
	return raw
}

// DecodeFrame parses a 12-byte wire frame without validating its CRC; use
// CRCValid to check integrity.
func DecodeFrame(raw [FrameLen]byte) Frame {
	var f Frame
	f.Chan = raw[0]
	f.Cmd = raw[1]
	copy(f.Addr[:], raw[2:5])
	f.Data = raw[5]
	f.Cons = binary.BigEndian.Uint16(raw[6:8])
	f.ConsTotal = binary.BigEndian.Uint16(raw[8:10])
	f.CRC = binary.BigEndian.Uint16(raw[10:12])
	return f
}

// CRCValid reports whether raw's trailing CRC16 matches the CRC computed
// over its first 10 bytes.
func CRCValid(raw [FrameLen]byte) bool {
	return crc16.Compute(raw[:10], crcPoly) == binary.BigEndian.Uint16(raw[10:12])
}

// isStationEcho reports whether cons/consTotal carry one of the sentinel
// pairs a station uses to mark its own frames, which receivers must
// ignore to avoid reacting to their own traffic reflected by the outlet.
func isStationEcho(cons, consTotal uint16) bool {
	return (cons == IDStation && consTotal == IDStation) ||
		(cons == IDStationMonitor && consTotal == IDStationMonitor)
}
