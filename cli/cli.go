// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package cli implements the gateway's line-oriented register inspection
// command: "reg read|read16|read32|read64 <addr> [count] [s]" and
// "reg write <addr> <byte|"string">...", dispatched against a regreg.Table.
package cli

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mcbachmann/pca301gw/regreg"
)

// Dispatch tokenizes line and runs the command it names against table,
// writing human-readable output to out. Unknown commands and malformed
// arguments are reported as errors rather than written to out.
func Dispatch(table *regreg.Table, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if fields[0] != "reg" {
		return fmt.Errorf("cli: unknown command %q", fields[0])
	}
	if len(fields) < 2 {
		return fmt.Errorf("cli: reg: missing subcommand")
	}

	args := fields[2:]
	switch fields[1] {
	case "read":
		return readCmd(table, out, 1, args)
	case "read16":
		return readCmd(table, out, 2, args)
	case "read32":
		return readCmd(table, out, 4, args)
	case "read64":
		return readCmd(table, out, 8, args)
	case "write":
		return writeCmd(table, out, args)
	default:
		return fmt.Errorf("cli: reg: unknown subcommand %q", fields[1])
	}
}

func readCmd(table *regreg.Table, out io.Writer, size int, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("cli: reg read: missing address")
	}
	addr, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("cli: reg read: bad address %q: %w", args[0], err)
	}

	count := 1
	if len(args) > 1 {
		count, err = strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("cli: reg read: bad count %q: %w", args[1], err)
		}
	}

	asString := len(args) > 2 && strings.HasPrefix(args[2], "s")

	for i := 0; i < count; i++ {
		buf := make([]byte, size)
		acc := &regreg.Access{Addr: uint16(addr), Buf: buf, Len: size}
		if err := table.Access(acc); err != nil {
			fmt.Fprintf(out, "%d: denied\n", addr)
			addr++
			continue
		}

		if asString {
			fmt.Fprintf(out, "%c", buf[0])
		} else {
			printRegister(out, uint16(addr), size, buf)
		}
		addr += uint64(size)
	}

	if asString {
		fmt.Fprintln(out)
	}
	return nil
}

func printRegister(out io.Writer, addr uint16, size int, buf []byte) {
	switch size {
	case 2:
		v := binary.LittleEndian.Uint16(buf)
		fmt.Fprintf(out, "%d: 0x%04x (u: %d, i: %d)\n", addr, v, v, int16(v))
	case 4:
		v := binary.LittleEndian.Uint32(buf)
		fmt.Fprintf(out, "%d: 0x%08x (u: %d, i: %d)\n", addr, v, v, int32(v))
	case 8:
		v := binary.LittleEndian.Uint64(buf)
		fmt.Fprintf(out, "%d: 0x%016x (u: %d, i: %d)\n", addr, v, v, int64(v))
	default:
		fmt.Fprintf(out, "%d: 0x%02x (u: %d, i: %d)\n", addr, buf[0], buf[0], int8(buf[0]))
	}
}

func writeCmd(table *regreg.Table, out io.Writer, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("cli: reg write: need an address and at least one value")
	}
	addr, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("cli: reg write: bad address %q: %w", args[0], err)
	}

	for _, tok := range args[1:] {
		var data []byte
		stringArg := strings.HasPrefix(tok, `"`)
		if stringArg {
			data = []byte(strings.Trim(tok, `"`))
		} else {
			b, err := strconv.ParseUint(tok, 10, 8)
			if err != nil {
				return fmt.Errorf("cli: reg write: bad value %q: %w", tok, err)
			}
			data = []byte{byte(b)}
		}

		acc := &regreg.Access{Addr: uint16(addr), Write: true, Buf: data, Len: len(data)}
		if err := table.Access(acc); err != nil {
			fmt.Fprintf(out, "%d: write failed\n", addr)
			break
		}

		// Only one string argument is supported, per the source's own
		// comment; stop after writing it rather than reinterpret addr math.
		if stringArg {
			break
		}
		addr++
	}
	return nil
}
