// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package main

import (
	"encoding/binary"
	"errors"

	"github.com/mcbachmann/pca301gw/nvs"
	"github.com/mcbachmann/pca301gw/pca301"
	"github.com/mcbachmann/pca301gw/regreg"
	"github.com/mcbachmann/pca301gw/rfm69"
	"github.com/mcbachmann/pca301gw/timer"
)

// Register ranges, per spec.md's map.
const (
	addrDeviceInfo  = 0
	addrNVS         = 1000
	addrLocalSensor = 2000
	addrRFM69Raw    = 3000
	addrRFM69Temp   = 3114
	addrRFM69RSSI   = 3115
	addrRFM69Calib  = 3116
	addrRFM69Budget = 3117
	addrPca301Dev   = 4100
	addrPca301Cmn   = 4120
	addrMqttFlags   = 4200

	rfm69RawRegisters = 114 // 0x00..0x71, the SX1231 register file
)

// Offsets within the PCA301 per-device range, relative to addrPca301Dev.
const (
	devOffAddr = 0 // 3 bytes
	devOffChan = 3
	devOffCons = 4 // 2 bytes
	devOffCTot = 6 // 2 bytes
	devOffRSSI = 8
	devOffCmd  = 9 // write triggers an engine operation
)

// Offsets within the PCA301 common range, relative to addrPca301Cmn.
const (
	cmnOffStatsRX       = 0
	cmnOffStatsRXCRC    = 2
	cmnOffStatsRXTO     = 4
	cmnOffStatsTX       = 6
	cmnOffStatsTXErr    = 8
	cmnOffStatsTXTO     = 10
	cmnOffDefaultChan   = 12
	cmnOffPairEnable    = 13
	cmnOffAutoPoll      = 14
	cmnOffRetries       = 15
	cmnOffRespTimeoutMS = 16 // 2 bytes
	cmnOffFrameDump     = 18
)

// wiring holds everything the register handlers close over: the live
// engine/radio instances and the NVS store the gateway's radio tuning is
// persisted to.
type wiring struct {
	engine *pca301.Engine
	radio  *rfm69.Radio
	clock  *timer.Clock
	store  *nvs.Store
	tuning pca301.RadioConfig // last tuning Adapter.Configure was called with
}

// buildTable assembles the full register map and returns it along with a
// pca301.Notifier that fans engine state changes out through table.Announce
// at the addresses the CLI and mqttpub see.
func buildTable(cfg Config, w *wiring) (*regreg.Table, pca301.Notifier) {
	table := &regreg.Table{}
	deviceRange := w.pca301DeviceRange()

	table.Add(deviceInfoRange(cfg))
	table.Add(w.nvsRange())
	table.Add(w.localSensorRange())
	table.Add(w.rfm69RawRange())
	table.Add(w.rfm69TempRange())
	table.Add(w.rfm69RSSIRange())
	table.Add(w.rfm69CalibRange())
	table.Add(w.rfm69BudgetRange())
	table.Add(deviceRange)
	table.Add(w.pca301CommonRange())
	table.Add(mqttFlagsRange())

	return table, &notifier{table: table, rng: deviceRange}
}

func deviceInfoRange(cfg Config) *regreg.Range {
	data := make([]byte, 5)
	binary.LittleEndian.PutUint32(data[0:4], cfg.DeviceID)
	data[4] = cfg.Version
	return &regreg.Range{Begin: addrDeviceInfo, End: addrDeviceInfo + 4, Data: data}
}

// nvsRange exposes two write-only trigger bytes: offset 0 commits the
// current radio tuning to NVS, offset 1 invalidates the stored blob so the
// next boot falls back to pca301.DefaultRadioConfig.
func (w *wiring) nvsRange() *regreg.Range {
	data := make([]byte, 2)
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if !acc.Write {
			return regreg.ResultOK
		}
		switch acc.AddrOffset {
		case 0:
			w.store.Write(encodeRadioTuning(w.tuning))
		case 1:
			// An empty payload never matches radioTuningSize, so the next
			// Read reports the blob invalid.
			w.store.Write(nil)
		}
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrNVS, End: addrNVS + 1, Data: data, Handler: handler}
}

// localSensorRange reports uptime in milliseconds; this gateway has no
// local ADC, so the temperature/voltage fields are zero-filled but kept in
// the map for CLI/layout compatibility with the original firmware's
// register numbering.
func (w *wiring) localSensorRange() *regreg.Range {
	data := make([]byte, 12)
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if acc.Write {
			return regreg.ResultErr
		}
		binary.LittleEndian.PutUint64(rng.Data[4:12], w.clock.Now())
		return regreg.ResultProceed
	}
	return &regreg.Range{Begin: addrLocalSensor, End: addrLocalSensor + 11, Data: data, Handler: handler}
}

// rfm69RawRange is a direct byte-for-byte pass-through to the radio's own
// register file, one SX1231 register address per gateway address.
func (w *wiring) rfm69RawRange() *regreg.Range {
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		for i := 0; i < len(acc.Buf); i++ {
			reg := byte(int(acc.AddrOffset) + i)
			if acc.Write {
				w.radio.WriteRaw(reg, acc.Buf[i])
			} else {
				acc.Buf[i] = w.radio.ReadRaw(reg)
			}
		}
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrRFM69Raw, End: addrRFM69Raw + rfm69RawRegisters - 1, Handler: handler}
}

func (w *wiring) rfm69TempRange() *regreg.Range {
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if acc.Write {
			return regreg.ResultErr
		}
		acc.Buf[0] = w.radio.Temperature()
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrRFM69Temp, End: addrRFM69Temp, Handler: handler}
}

func (w *wiring) rfm69RSSIRange() *regreg.Range {
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if acc.Write {
			return regreg.ResultErr
		}
		acc.Buf[0] = byte(w.radio.RSSIValue(false))
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrRFM69RSSI, End: addrRFM69RSSI, Handler: handler}
}

// rfm69CalibRange is a write-only trigger: any write kicks off the RC
// oscillator calibration the datasheet recommends after a temperature swing.
func (w *wiring) rfm69CalibRange() *regreg.Range {
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if acc.Write {
			w.radio.RCOscCalibrate()
		}
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrRFM69Calib, End: addrRFM69Calib, Handler: handler}
}

func (w *wiring) rfm69BudgetRange() *regreg.Range {
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if acc.Write {
			return regreg.ResultErr
		}
		acc.Buf[0] = byte(w.radio.SendBudgetMS() / 1000)
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrRFM69Budget, End: addrRFM69Budget, Handler: handler}
}

// pca301DeviceRange carries the last-known state of one outlet: address,
// channel, consumption counters, RSSI, and a command-trigger byte that
// dispatches Switch/Poll/Ident/StatsReset against the engine when written.
// Reads of every other offset fall through to the default memcpy against
// Data, which notifier keeps up to date via table.Announce.
func (w *wiring) pca301DeviceRange() *regreg.Range {
	data := make([]byte, 10)
	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if !acc.Write {
			return regreg.ResultProceed
		}
		lo, hi := acc.AddrOffset, acc.AddrOffset+uint16(len(acc.Buf))
		if lo > devOffCmd || hi <= devOffCmd {
			return regreg.ResultProceed
		}

		cmdByte := acc.Buf[devOffCmd-lo]
		var addr [3]byte
		copy(addr[:], rng.Data[devOffAddr:devOffAddr+3])
		ch := rng.Data[devOffChan]

		var err error
		switch cmdByte {
		case pca301.RegCmdPoll:
			err = w.engine.Poll(addr, ch)
		case pca301.RegCmdOn:
			err = w.engine.Switch(addr, ch, true)
		case pca301.RegCmdOff:
			err = w.engine.Switch(addr, ch, false)
		case pca301.RegCmdIdent:
			err = w.engine.Ident(addr, ch)
		case pca301.RegCmdStatsReset:
			err = w.engine.StatsReset(addr, ch)
		}
		if errors.Is(err, pca301.ErrBusy) {
			return regreg.ResultBusy
		}
		return regreg.ResultProceed
	}
	return &regreg.Range{Begin: addrPca301Dev, End: addrPca301Dev + 9, Data: data, Handler: handler}
}

// pca301CommonRange exposes the engine's Stats block (read-only) and its
// Config tunables (read/write, taking effect on the next engine operation).
func (w *wiring) pca301CommonRange() *regreg.Range {
	cfg := w.engine.Config()
	data := make([]byte, 19)
	encodeConfig(data, cfg)

	handler := func(rng *regreg.Range, acc *regreg.Access) regreg.Result {
		if !acc.Write {
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsRX:], w.engine.Stats.RX)
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsRXCRC:], w.engine.Stats.RXCRCInvalid)
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsRXTO:], w.engine.Stats.RXTimeout)
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsTX:], w.engine.Stats.TX)
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsTXErr:], w.engine.Stats.TXErrors)
			binary.LittleEndian.PutUint16(rng.Data[cmnOffStatsTXTO:], w.engine.Stats.TXTimeout)
			return regreg.ResultProceed
		}

		if acc.AddrOffset+uint16(len(acc.Buf)) <= cmnOffDefaultChan {
			// Stats are read-only; ignore writes confined to them.
			return regreg.ResultOK
		}

		lo := acc.AddrOffset
		for i, b := range acc.Buf {
			off := lo + uint16(i)
			if off >= cmnOffDefaultChan {
				rng.Data[off] = b
			}
		}
		w.engine.SetConfig(decodeConfig(rng.Data))
		return regreg.ResultOK
	}
	return &regreg.Range{Begin: addrPca301Cmn, End: addrPca301Cmn + 18, Data: data, Handler: handler}
}

func encodeConfig(data []byte, cfg pca301.Config) {
	data[cmnOffDefaultChan] = cfg.DefaultChannel
	data[cmnOffPairEnable] = boolByte(cfg.PairEnable)
	data[cmnOffAutoPoll] = boolByte(cfg.AutoPoll)
	data[cmnOffRetries] = cfg.Retries
	binary.LittleEndian.PutUint16(data[cmnOffRespTimeoutMS:], uint16(cfg.ResponseTimeoutMS))
	data[cmnOffFrameDump] = boolByte(cfg.FrameDump)
}

func decodeConfig(data []byte) pca301.Config {
	return pca301.Config{
		DefaultChannel:    data[cmnOffDefaultChan],
		PairEnable:        data[cmnOffPairEnable] != 0,
		AutoPoll:          data[cmnOffAutoPoll] != 0,
		Retries:           data[cmnOffRetries],
		ResponseTimeoutMS: uint64(binary.LittleEndian.Uint16(data[cmnOffRespTimeoutMS:])),
		FrameDump:         data[cmnOffFrameDump] != 0,
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// mqttFlagsRange is SPEC_FULL.md's addition over the original register
// map: a publish-enable flag (default on) and a broker-connected flag (set
// by main through an ordinary write once the publisher connects). Both are
// plain bytes with no handler, so both accept writes through the table. Gating
// mqttpub.Announce itself on the enable flag is left to a future pass;
// today these two bytes are informational, inspectable via the CLI.
func mqttFlagsRange() *regreg.Range {
	return &regreg.Range{Begin: addrMqttFlags, End: addrMqttFlags + 1, Data: []byte{1, 0}}
}

// notifier implements pca301.Notifier by writing each update directly into
// the pca301 device range's backing Data and announcing it to every
// observer, keeping the engine itself free of any dependency on register
// addressing. It writes Data directly rather than through table.Access so
// an engine-originated NotifyCmd can never re-enter the device range's own
// write handler, which is what turns a CLI write at the same offset into a
// Switch/Poll/Ident call in the first place.
type notifier struct {
	table *regreg.Table
	rng   *regreg.Range
}

func (n *notifier) NotifyAddr(addr [3]byte) {
	n.announce(devOffAddr, addr[:])
}
func (n *notifier) NotifyChan(ch byte) {
	n.announce(devOffChan, []byte{ch})
}
func (n *notifier) NotifyRSSI(rssi int8) {
	n.announce(devOffRSSI, []byte{byte(rssi)})
}
func (n *notifier) NotifyCmd(cmd byte) {
	n.announce(devOffCmd, []byte{cmd})
}
func (n *notifier) NotifyCons(cons uint16) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, cons)
	n.announce(devOffCons, buf)
}
func (n *notifier) NotifyConsTotal(consTotal uint16) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, consTotal)
	n.announce(devOffCTot, buf)
}

func (n *notifier) announce(offset uint16, data []byte) {
	copy(n.rng.Data[offset:int(offset)+len(data)], data)
	n.table.Announce(uint16(addrPca301Dev)+offset, data)
}

const radioTuningSize = 4 + 4 + 4 + 4 // FreqCarrierKHz, BitrateBS, RSSIThreshold, FDevHz, all as int32/uint32

func encodeRadioTuning(cfg pca301.RadioConfig) []byte {
	buf := make([]byte, radioTuningSize)
	binary.LittleEndian.PutUint32(buf[0:4], cfg.FreqCarrierKHz)
	binary.LittleEndian.PutUint32(buf[4:8], cfg.BitrateBS)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(cfg.RSSIThreshold)))
	binary.LittleEndian.PutUint32(buf[12:16], cfg.FDevHz)
	return buf
}

func decodeRadioTuning(buf []byte) pca301.RadioConfig {
	return pca301.RadioConfig{
		FreqCarrierKHz: binary.LittleEndian.Uint32(buf[0:4]),
		BitrateBS:      binary.LittleEndian.Uint32(buf[4:8]),
		RSSIThreshold:  int(int32(binary.LittleEndian.Uint32(buf[8:12]))),
		FDevHz:         binary.LittleEndian.Uint32(buf[12:16]),
	}
}
