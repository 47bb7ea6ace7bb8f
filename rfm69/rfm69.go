// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package rfm69 drives a HopeRF RFM69 (Semtech SX1231) sub-GHz FSK
// transceiver over SPI, just far enough to carry ELV PCA301 frames: fixed
// packet length, no addressing, manual mode switching, and a 1%
// duty-cycle send budget enforced in software.
//
// Unlike a general-purpose SX1231 driver this one does not run its own
// send/receive goroutines or channels. It exposes a single atomic "packet
// ready" flag set by the interrupt pin's edge-watcher goroutine, and every
// other method is meant to be driven from one cooperative caller -- the
// pca301 package's engine tick.
package rfm69

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mcbachmann/pca301gw/spibus"
	"github.com/mcbachmann/pca301gw/timer"
)

// Timing constants for mode switches and the duty-cycle budget, taken
// straight from the radio's accompanying firmware driver.
const (
	modeTimeout = 200 * time.Millisecond

	// TimeBudgetMax is the most send time ever banked: 1% of one hour.
	TimeBudgetMax = 36000
	// TimeBudgetRecoverPerMS is how much budget (in ms) is recovered per
	// elapsed millisecond: 36000ms allowed per 3600000ms of wall time.
	TimeBudgetRecoverPerMS = 10
	// TimeBudgetMin is the minimum budget required before Send will even
	// attempt a transmission.
	TimeBudgetMin = 3600
	// TimeBudgetExtra is deducted from the budget on top of measured
	// send duration, to account for overhead the clock can't see.
	TimeBudgetExtra = 1
)

// Errors returned by Radio methods.
var (
	ErrNoBudget = errors.New("rfm69: send budget exhausted")
	ErrTimeout  = errors.New("rfm69: register wait timed out")
)

// LogPrintf is used by Radio to print diagnostic messages; pass nil to
// discard them.
type LogPrintf func(format string, v ...interface{})

// Radio drives one RFM69 transceiver. It is not safe for concurrent use;
// callers serialize access the way the engine's single-threaded tick does.
type Radio struct {
	spi    spibus.SPI
	clock  *timer.Clock
	log    LogPrintf
	isHW   bool // RFM69HW variant: higher TX power range, PA1+PA2

	mode      Mode
	isrFlag   atomic.Uint32 // set by the interrupt watcher, cleared on consume
	dioRXDio  int           // -1 if unset
	dioRXVal  byte
	dioTXDio  int
	dioTXVal  byte

	budgetMS     uint16
	lastSendMS   uint64
}

// New creates a Radio bound to spi and clock. isHW selects PA output range:
// true for RFM69HW (+5..+20dBm), false for RFM69W (-18..+13dBm).
func New(spi spibus.SPI, clock *timer.Clock, isHW bool) *Radio {
	r := &Radio{
		spi:      spi,
		clock:    clock,
		isHW:     isHW,
		mode:     0xff, // unknown until first ModeGet/ModeSet
		dioRXDio: -1,
		dioTXDio: -1,
		budgetMS: TimeBudgetMax,
	}
	if isHW {
		r.paSelect(pa1On | pa2On)
		r.ocp(false)
	} else {
		r.paSelect(pa0On)
	}
	return r
}

// SetLogger installs a diagnostic log sink; nil discards log output.
func (r *Radio) SetLogger(l LogPrintf) { r.log = l }

func (r *Radio) logf(format string, v ...interface{}) {
	if r.log != nil {
		r.log(format, v...)
	}
}

// NotifyISR is called by the interrupt pin watcher goroutine -- the single
// concurrency boundary in this package -- whenever DIO0 fires.
func (r *Radio) NotifyISR() { r.isrFlag.Store(1) }

func (r *Radio) consumeISR() bool { return r.isrFlag.Swap(0) == 1 }

// ISRPending reports whether the ISR flag is set, without consuming it.
// Used to trigger a fresh RSSI capture the moment a packet starts
// arriving, independently of RXAvailable's FIFO-availability polling.
func (r *Radio) ISRPending() bool { return r.isrFlag.Load() == 1 }

//----- raw register access -----

// ReadRaw returns the full contents of register addr.
func (r *Radio) ReadRaw(addr byte) byte {
	out := []byte{addr, 0}
	in := make([]byte, 2)
	if err := r.spi.Tx(out, in); err != nil {
		r.logf("rfm69: spi read %#x: %v", addr, err)
		return 0
	}
	return in[1]
}

// WriteRaw writes val to register addr.
func (r *Radio) WriteRaw(addr, val byte) {
	out := []byte{spiWrite | addr, val}
	if err := r.spi.Tx(out, make([]byte, 2)); err != nil {
		r.logf("rfm69: spi write %#x: %v", addr, err)
	}
}

// Read returns the masked, shifted field at addr.
func (r *Radio) Read(addr, mask, shift byte) byte {
	return (r.ReadRaw(addr) >> shift) & mask
}

// RW performs a read-modify-write of the masked field at addr.
func (r *Radio) RW(addr, mask, shift, val byte) {
	cur := r.ReadRaw(addr)
	r.WriteRaw(addr, (cur&^(mask<<shift))|((val&mask)<<shift))
}

//----- mode control -----

// ModeGet returns the last mode set; it never re-reads the chip, mirroring
// the firmware driver's cached opmode.
func (r *Radio) ModeGet() Mode { return r.mode }

// ModeSet switches the transceiver to mode, waiting up to 200ms for
// ModeReady, restarting RX on entry to RX mode, and toggling the RFM69HW
// 20dBm PA boost around TX entry/exit.
func (r *Radio) ModeSet(mode Mode) error {
	switch mode {
	case ModeRX:
		if r.dioRXDio >= 0 {
			r.dioMapping(r.dioRXDio, r.dioRXVal)
		}
	case ModeTX:
		if r.dioTXDio >= 0 {
			r.dioMapping(r.dioTXDio, r.dioTXVal)
		}
	}

	r.isrFlag.Store(0)

	r.RW(regOpMode, mskOpModeMode, shfOpModeMode, byte(mode))

	deadline := r.clock.Now() + uint64(modeTimeout/time.Millisecond)
	var err error
	for r.Read(regIRQFlags1, mskIRQ1ModeReady, shfIRQ1ModeReady) == 0 {
		if r.clock.Now() >= deadline {
			r.logf("rfm69: opmode: timeout")
			err = ErrTimeout
			break
		}
	}

	if r.isHW {
		r.highPowerPA(mode == ModeTX)
	}

	if mode == ModeRX {
		r.RW(regPacketConfig2, mskPktCfg2RXRestart, shfPktCfg2RXRestart, rxRestart)
	}

	r.mode = mode
	return err
}

//----- configuration -----

// SetFrequency sets the carrier frequency in kHz, e.g. 868300 for 868.3MHz.
func (r *Radio) SetFrequency(khz uint32) {
	frf := uint32(uint64(khz) * 1000 * 524288 / freqFXOSCHz)
	r.WriteRaw(regFrfMSB, byte(frf>>16))
	r.WriteRaw(regFrfMID, byte(frf>>8))
	r.WriteRaw(regFrfLSB, byte(frf))
}

// SetBitrate sets the data rate in bits/s, e.g. 6631 for 6.631kb/s.
func (r *Radio) SetBitrate(bps uint32) {
	bitrate := uint16(freqFXOSCHz / bps)
	r.WriteRaw(regBitrateMSB, byte(bitrate>>8))
	r.WriteRaw(regBitrateLSB, byte(bitrate))
}

// SetFrequencyDeviation sets FDEV in Hz.
func (r *Radio) SetFrequencyDeviation(hz uint32) {
	fdev := uint16(hz / freqFStepHz)
	r.WriteRaw(regFdevMSB, byte(fdev>>8))
	r.WriteRaw(regFdevLSB, byte(fdev))
}

// DIOMappingRX records a DIO pin mapping to apply every time ModeSet enters
// RX mode.
func (r *Radio) DIOMappingRX(dio int, val byte) { r.dioRXDio, r.dioRXVal = dio, val }

// DIOMappingTX records a DIO pin mapping to apply every time ModeSet enters
// TX mode.
func (r *Radio) DIOMappingTX(dio int, val byte) { r.dioTXDio, r.dioTXVal = dio, val }

func (r *Radio) dioMapping(dio int, val byte) {
	var reg byte
	var shift byte
	if dio < 4 {
		reg = regDioMapping1
		shift = 6 - byte(dio)*2
	} else {
		reg = regDioMapping2
		shift = 6 - byte(dio-4)*2
	}
	r.RW(reg, mskDioMapping, shift, val)
}

// ClkOut configures the CLKOUT pin; pass clkoutOff-equivalent 0x07 to
// disable it entirely, saving power.
func (r *Radio) ClkOut(val byte) {
	r.RW(regDioMapping2, mskDioMapping2Clkout, shfDioMapping2Clkout, val)
}

// CRCOn enables or disables packet CRC calculation/checking.
func (r *Radio) CRCOn(on bool) {
	r.RW(regPacketConfig1, mskPktCfg1CRCOn, shfPktCfg1CRCOn, boolBit(on))
}

// CRCAutoClearOff controls whether a bad CRC auto-clears the FIFO.
func (r *Radio) CRCAutoClearOff(off bool) {
	r.RW(regPacketConfig1, mskPktCfg1CRCAutoClearOff, shfPktCfg1CRCAutoClearOff, boolBit(off))
}

// PacketFormatVarLen selects variable- vs fixed-length packet framing.
func (r *Radio) PacketFormatVarLen(varLen bool) {
	r.RW(regPacketConfig1, mskPktCfg1Format, shfPktCfg1Format, boolBit(varLen))
}

// PayloadLength sets the fixed (or max variable) payload length.
func (r *Radio) PayloadLength(n byte) { r.WriteRaw(regPayloadLength, n) }

// SyncOn enables or disables sync word generation/detection.
func (r *Radio) SyncOn(on bool) {
	r.RW(regSyncConfig, mskSyncConfigOn, shfSyncConfigOn, boolBit(on))
}

// SyncWord sets the sync word. The chip always adds one implicit byte to
// the configured size, matching the datasheet's off-by-one register field.
func (r *Radio) SyncWord(values []byte) {
	r.RW(regSyncConfig, mskSyncConfigSize, shfSyncConfigSize, byte(len(values)-1))
	for i, v := range values {
		r.WriteRaw(regSyncValue1+byte(i), v)
	}
}

// RxBandwidthExp sets the channel filter bandwidth exponent.
func (r *Radio) RxBandwidthExp(exp byte) {
	r.RW(regRxBw, mskRxBwExp, shfRxBwExp, exp)
}

// RSSIThreshold sets the RSSI trigger threshold in dBm (negative).
func (r *Radio) RSSIThreshold(dbm int) {
	r.WriteRaw(regRSSIThresh, byte((-dbm)<<1))
}

// RSSIValue returns the last (or freshly triggered) RSSI reading in dBm.
func (r *Radio) RSSIValue(trigger bool) int {
	if trigger {
		r.RW(regRSSIConfig, mskRSSIStart, shfRSSIStart, rssiStart)
		deadline := r.clock.Now() + uint64(modeTimeout/time.Millisecond)
		for r.Read(regRSSIConfig, mskRSSIDone, shfRSSIDone) != rssiDone {
			if r.clock.Now() >= deadline {
				r.logf("rfm69: rssi: timeout")
				return 0
			}
		}
	}
	return -int(r.ReadRaw(regRSSIValue) >> 1)
}

// PASelect chooses which power amplifier stage(s) are active.
func (r *Radio) PASelect(mask byte) { r.paSelect(mask) }

func (r *Radio) paSelect(mask byte) {
	r.RW(regPaLevel, mskPaLevelPAOn, shfPaLevelPAOn, mask)
}

func (r *Radio) ocp(on bool) {
	r.RW(regOCP, mskOCPOn, shfOCPOn, boolBit(on))
}

func (r *Radio) highPowerPA(on bool) {
	if on {
		r.WriteRaw(regTestPA1, testPA1_20dBmMode)
		r.WriteRaw(regTestPA2, testPA2_20dBmMode)
	} else {
		r.WriteRaw(regTestPA1, testPA1Normal)
		r.WriteRaw(regTestPA2, testPA2Normal)
	}
}

// OutputPower sets transmit power as a percentage, linearly mapped onto
// the variant's power range: RFM69W spans -18..+13dBm, RFM69HW spans
// +5..+20dBm.
func (r *Radio) OutputPower(percent byte) {
	var val byte
	if r.isHW {
		val = byte((uint16(percent) * (20 - 5)) / 100)
	} else {
		val = byte((uint16(percent) * uint16(13-(-18))) / 100)
	}
	r.RW(regPaLevel, mskPaLevelOutputPwr, shfPaLevelOutputPwr, val)
}

//----- FIFO / packet I/O -----

// FIFOClear clears a FIFO overrun condition.
func (r *Radio) FIFOClear() {
	r.WriteRaw(regIRQFlags2, mskIRQ2FifoOverrun<<shfIRQ2FifoOverrun)
}

// FIFODataAvailable reports whether PayloadReady is currently set.
func (r *Radio) FIFODataAvailable() bool {
	return r.Read(regIRQFlags2, mskIRQ2PayloadReady, shfIRQ2PayloadReady) != 0
}

// FIFOByte reads one byte out of the FIFO.
func (r *Radio) FIFOByte() byte { return r.ReadRaw(regFIFO) }

// TXStartCondition sets the FIFO threshold's TX start condition: fifoLevel
// or fifoNotEmpty.
func (r *Radio) TXStartCondition(val byte) {
	r.RW(regFIFOThresh, mskFIFOThreshTXStartCond, shfFIFOThreshTXStartCond, val)
}

// RXAvailable reports whether a full packet is ready to be read, consuming
// the ISR flag exactly once per packet -- mirroring the firmware driver's
// fallback to a direct FIFO poll when in RX mode without a fresh edge.
func (r *Radio) RXAvailable() bool {
	if r.mode != ModeRX {
		return false
	}
	if r.consumeISR() {
		return true
	}
	return r.FIFODataAvailable()
}

// Send transmits data, blocking until the packet has gone out or 200ms have
// elapsed, then returns the radio to RX mode. It refuses to transmit at all
// if the duty-cycle budget is below TimeBudgetMin.
func (r *Radio) Send(data []byte) error {
	if r.SendBudgetMS() < TimeBudgetMin {
		return ErrNoBudget
	}

	// restart RX to avoid deadlocks from a stale AFC lock, then go quiet.
	r.RW(regPacketConfig2, mskPktCfg2RXRestart, shfPktCfg2RXRestart, rxRestart)
	if err := r.ModeSet(ModeStandby); err != nil {
		r.logf("rfm69: send: standby: %v", err)
	}
	r.FIFOClear()

	out := make([]byte, 0, len(data)+1)
	out = append(out, spiWrite|regFIFO)
	out = append(out, data...)
	if err := r.spi.Tx(out, make([]byte, len(out))); err != nil {
		return fmt.Errorf("rfm69: send: spi: %w", err)
	}

	start := r.clock.Now()

	var sendErr error
	if err := r.ModeSet(ModeTX); err != nil {
		r.logf("rfm69: send: tx: %v", err)
	}

	deadline := start + uint64(modeTimeout/time.Millisecond)
	for !r.consumeISR() {
		if r.clock.Now() >= deadline {
			r.logf("rfm69: send: timeout")
			r.FIFOClear()
			sendErr = ErrTimeout
			break
		}
	}

	if err := r.ModeSet(ModeStandby); err != nil {
		r.logf("rfm69: send: standby: %v", err)
	}
	if err := r.ModeSet(ModeRX); err != nil {
		r.logf("rfm69: send: rx: %v", err)
	}

	r.lastSendMS = r.clock.Now()
	elapsed := uint16(r.lastSendMS-start) + TimeBudgetExtra
	if elapsed > r.budgetMS {
		r.budgetMS = 0
	} else {
		r.budgetMS -= elapsed
	}

	return sendErr
}

// SendBudgetMS returns the currently available send-time budget in
// milliseconds, recovering TimeBudgetRecoverPerMS ms per elapsed ms since
// the last call, capped at TimeBudgetMax.
func (r *Radio) SendBudgetMS() uint16 {
	now := r.clock.Now()
	elapsed := now - r.lastSendMS
	r.lastSendMS = now
	recovered := elapsed * TimeBudgetRecoverPerMS
	if uint64(r.budgetMS)+recovered > TimeBudgetMax {
		r.budgetMS = TimeBudgetMax
	} else {
		r.budgetMS += uint16(recovered)
	}
	return r.budgetMS
}

//----- misc -----

// Temperature measures and returns the chip temperature reading, 0xff on
// timeout. The returned value follows the datasheet's inverted raw
// register (colder reads higher); callers needing actual degrees Celsius
// must apply the chip's calibration offset themselves.
func (r *Radio) Temperature() byte {
	prev := r.mode
	if err := r.ModeSet(ModeStandby); err != nil {
		r.logf("rfm69: temp: standby: %v", err)
	}

	r.RW(regTemp1, mskTempMeasStart, shfTempMeasStart, tempMeasStart)

	deadline := r.clock.Now() + uint64(modeTimeout/time.Millisecond)
	for r.Read(regTemp1, mskTempMeasRunning, shfTempMeasRunning) != 0 {
		if r.clock.Now() >= deadline {
			r.logf("rfm69: temp: timeout")
			if err := r.ModeSet(prev); err != nil {
				r.logf("rfm69: temp: restore mode: %v", err)
			}
			return 0xff
		}
	}

	result := ^r.ReadRaw(regTemp2)
	if err := r.ModeSet(prev); err != nil {
		r.logf("rfm69: temp: restore mode: %v", err)
	}
	return result
}

// RCOscCalibrate runs the RC oscillator calibration routine.
func (r *Radio) RCOscCalibrate() {
	prev := r.mode
	if err := r.ModeSet(ModeStandby); err != nil {
		r.logf("rfm69: rcosccal: standby: %v", err)
	}

	r.RW(regOsc1, mskOsc1RCCalStart, shfOsc1RCCalStart, osc1RCCalStart)

	deadline := r.clock.Now() + uint64(modeTimeout/time.Millisecond)
	for r.Read(regOsc1, mskOsc1RCCalDone, shfOsc1RCCalDone) != osc1RCCalDone {
		if r.clock.Now() >= deadline {
			r.logf("rfm69: rcosccal: timeout")
			break
		}
	}

	if err := r.ModeSet(prev); err != nil {
		r.logf("rfm69: rcosccal: restore mode: %v", err)
	}
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}
