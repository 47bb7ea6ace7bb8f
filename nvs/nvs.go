// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package nvs persists the gateway's small configuration blob (the RFM69
// carrier, bitrate, RSSI threshold and deviation tuning) the same way
// the original firmware did on its ATmega's EEPROM: a 2-byte little-endian
// CRC16 prefix followed by the raw payload. On this gateway the backing
// store is a plain file rather than raw EEPROM, but the wire format -- and
// therefore cross-compatibility with blobs captured from real hardware --
// is unchanged.
package nvs

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mcbachmann/pca301gw/crc16"
)

// Store reads and writes a single CRC-prefixed blob at path.
type Store struct {
	path string
}

// Open returns a Store backed by path. The file is created on first Write
// if it does not yet exist; Open itself does no I/O.
func Open(path string) *Store { return &Store{path: path} }

// Read loads the blob into buf, which must be exactly the payload size
// (not counting the 2-byte CRC prefix). It reports whether the stored CRC
// matched the payload -- false means corrupt or never-written data, and
// buf should not be trusted.
func (s *Store) Read(buf []byte) (valid bool, err error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("nvs: read %s: %w", s.path, err)
	}
	if len(raw) != len(buf)+2 {
		return false, nil
	}

	stored := binary.LittleEndian.Uint16(raw[:2])
	computed := crc16.Compute(raw[2:], crc16.PolyNVS)
	copy(buf, raw[2:])
	return stored == computed, nil
}

// Write computes the CRC over data and persists the CRC-prefixed blob.
func (s *Store) Write(data []byte) error {
	crc := crc16.Compute(data, crc16.PolyNVS)
	raw := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(raw[:2], crc)
	copy(raw[2:], data)

	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("nvs: write %s: %w", s.path, err)
	}
	return nil
}
