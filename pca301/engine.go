// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package pca301

import (
	"errors"

	"github.com/mcbachmann/pca301gw/rfm69"
	"github.com/mcbachmann/pca301gw/timer"
)

// RegReg-facing command codes: the values the CLI/regreg layer writes to
// request an action, distinct from the wire command bytes in Frame.Cmd.
const (
	RegCmdNone        = 0
	RegCmdPoll        = 1
	RegCmdOn          = 2
	RegCmdOff         = 3
	RegCmdIdent       = 4
	RegCmdTimeoutRX   = 5
	RegCmdPair        = 6
	RegCmdSendBudget  = 7
	RegCmdTimeoutTX   = 8
	RegCmdStatsReset  = 9
)

// ErrBusy is returned when a request is issued while another is already
// outstanding -- PCA301 allows only one in-flight request at a time.
var ErrBusy = errors.New("pca301: request already in progress")

// LogPrintf is used by Engine to print diagnostic and protocol messages.
type LogPrintf func(format string, v ...interface{})

// Notifier receives state updates as they're learned from the radio,
// mirroring the six independent announcements the original firmware made
// per received frame (address, channel, RSSI, resulting command, and the
// two consumption counters). Each method is called at most once per
// Receive/Tick event that produces that particular piece of state.
type Notifier interface {
	NotifyAddr(addr [3]byte)
	NotifyChan(ch byte)
	NotifyRSSI(rssi int8)
	NotifyCmd(cmd byte)
	NotifyCons(cons uint16)
	NotifyConsTotal(consTotal uint16)
}

func notifyAddr(n Notifier, a [3]byte) {
	if n != nil {
		n.NotifyAddr(a)
	}
}
func notifyChan(n Notifier, c byte) {
	if n != nil {
		n.NotifyChan(c)
	}
}
func notifyRSSI(n Notifier, r int8) {
	if n != nil {
		n.NotifyRSSI(r)
	}
}
func notifyCmd(n Notifier, c byte) {
	if n != nil {
		n.NotifyCmd(c)
	}
}
func notifyCons(n Notifier, c uint16) {
	if n != nil {
		n.NotifyCons(c)
	}
}
func notifyConsTotal(n Notifier, c uint16) {
	if n != nil {
		n.NotifyConsTotal(c)
	}
}

// Config holds the tunables the original firmware exposed through RegReg.
type Config struct {
	DefaultChannel    byte
	PairEnable        bool
	AutoPoll          bool
	Retries           byte
	ResponseTimeoutMS uint64
	FrameDump         bool
}

// DefaultConfig returns the firmware's documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultChannel:    1,
		PairEnable:        false,
		AutoPoll:          true,
		Retries:           2,
		ResponseTimeoutMS: 500,
		FrameDump:         false,
	}
}

// Stats accumulates protocol-level counters, mirroring the firmware's
// RegReg-exposed statistics block.
type Stats struct {
	RX           uint16
	RXCRCInvalid uint16
	RXTimeout    uint16
	TX           uint16
	TXErrors     uint16
	TXTimeout    uint16
}

// outstanding describes the single in-flight request this gateway may have
// against an outlet at any time.
type outstanding struct {
	addr     [3]byte
	ch       byte
	cmd      byte
	data     byte
	deadline uint64 // 0 means no request is active
	retries  byte
}

func (o *outstanding) active(now uint64) bool {
	return o.deadline != 0 && now < o.deadline
}

// Engine is the PCA301 protocol state machine: it turns high-level
// operations (Switch, Poll, Ident, StatsReset) into outgoing frames,
// decodes incoming frames, and drives retry/timeout and auto-poll
// reconciliation from Tick.
type Engine struct {
	radio  *rfm69.Radio
	clock  *timer.Clock
	notify Notifier
	log    LogPrintf
	cfg    Config
	Stats  Stats

	req outstanding

	// lastSent mirrors the firmware's single reused send-frame buffer: a
	// CmdSwitch ACK is only accepted if it matches what we last sent.
	lastSent Frame

	autoPollPending bool
	autoPollAddr    [3]byte
	autoPollChan    byte
}

// NewEngine creates an Engine driving radio, timed by clock.
func NewEngine(radio *rfm69.Radio, clock *timer.Clock, notify Notifier, cfg Config) *Engine {
	return &Engine{radio: radio, clock: clock, notify: notify, cfg: cfg}
}

// SetLogger installs a diagnostic log sink; nil discards log output.
func (e *Engine) SetLogger(l LogPrintf) { e.log = l }

// SetNotifier installs the Notifier state updates are reported through,
// replacing whatever NewEngine was called with. This exists because the
// register wiring that implements Notifier needs a live *Engine to build
// its command-trigger handler, creating an unavoidable construction-order
// cycle that a setter breaks.
func (e *Engine) SetNotifier(n Notifier) { e.notify = n }

// Config returns a copy of the engine's current tunables.
func (e *Engine) Config() Config { return e.cfg }

// SetConfig replaces the engine's tunables; the change is visible to the
// next operation or Tick, there is no in-flight request to reconcile.
func (e *Engine) SetConfig(cfg Config) { e.cfg = cfg }

func (e *Engine) logf(format string, v ...interface{}) {
	if e.log != nil {
		e.log(format, v...)
	}
}

func (e *Engine) busy() bool { return e.req.active(e.clock.Now()) }

// Switch requests the outlet at addr/ch be turned on or off.
func (e *Engine) Switch(addr [3]byte, ch byte, on bool) error {
	data := byte(SwitchOff)
	if on {
		data = SwitchOn
	}
	return e.issue(addr, ch, CmdSwitch, data, true)
}

// Poll requests a state + consumption report from the outlet at addr/ch.
func (e *Engine) Poll(addr [3]byte, ch byte) error {
	return e.issue(addr, ch, CmdPoll, 0, true)
}

// Ident asks the outlet at addr/ch to blink its indicator. Unlike the
// other operations this one has no reply to wait for, so it does not arm
// the retry timer -- but it's still refused while another request is
// outstanding.
func (e *Engine) Ident(addr [3]byte, ch byte) error {
	return e.issue(addr, ch, CmdIdent, 0, false)
}

// StatsReset asks the outlet at addr/ch to clear its own consumption
// counters. This does not touch Engine.Stats, which tracks gateway-side
// protocol counters, not the outlet's.
func (e *Engine) StatsReset(addr [3]byte, ch byte) error {
	return e.issue(addr, ch, CmdPoll, PollStatsReset, true)
}

func (e *Engine) issue(addr [3]byte, ch, cmd, data byte, withTimeout bool) error {
	if e.busy() {
		return ErrBusy
	}

	e.req.addr = addr
	e.req.ch = ch
	e.req.cmd = cmd
	e.req.data = data
	if withTimeout {
		e.req.deadline = e.clock.Now() + e.cfg.ResponseTimeoutMS
		e.req.retries = e.cfg.Retries
	} else {
		e.req.deadline = 0
	}

	err := e.transmit(addr, ch, cmd, data)
	if err != nil && withTimeout {
		e.req.deadline = 0
	}
	return err
}

// transmit builds and sends one frame, updating Stats and notifying of
// any send-side failure the same way for both fresh requests and retries.
func (e *Engine) transmit(addr [3]byte, ch, cmd, data byte) error {
	f := Frame{
		Chan:      ch,
		Cmd:       cmd,
		Addr:      addr,
		Data:      data,
		Cons:      IDStation,
		ConsTotal: IDStation,
	}
	raw := f.Encode()
	e.lastSent = f
	e.dump(f)

	err := e.radio.Send(raw[:])
	switch {
	case err == nil:
		e.Stats.TX++
	case errors.Is(err, rfm69.ErrNoBudget):
		e.Stats.TXErrors++
		notifyCmd(e.notify, RegCmdSendBudget)
	case errors.Is(err, rfm69.ErrTimeout):
		e.Stats.TXErrors++
		e.Stats.TXTimeout++
		notifyCmd(e.notify, RegCmdTimeoutTX)
	default:
		e.Stats.TXErrors++
	}
	return err
}

// Receive processes one incoming 12-byte frame captured at rssi. Frames
// with an invalid CRC are dropped and counted; everything else updates
// address/channel/RSSI telemetry and is dispatched by command.
func (e *Engine) Receive(raw [FrameLen]byte, rssi int8) {
	if !CRCValid(raw) {
		e.Stats.RXCRCInvalid++
		return
	}
	e.Stats.RX++

	f := DecodeFrame(raw)
	e.dump(f)

	notifyAddr(e.notify, f.Addr)
	notifyChan(e.notify, f.Chan)
	notifyRSSI(e.notify, rssi)

	switch f.Cmd {
	case CmdPair:
		e.handlePair(f)
	case CmdPoll:
		e.handlePoll(f, rssi)
	case CmdSwitch:
		e.handleSwitch(f, rssi)
	}
}

func (e *Engine) handlePair(f Frame) {
	if f.Chan == ChanNone {
		if !e.cfg.PairEnable {
			return
		}
		f.Chan = e.cfg.DefaultChannel
		e.transmit(f.Addr, f.Chan, CmdPair, 0)
	}
	notifyCmd(e.notify, RegCmdPair)
}

func (e *Engine) handlePoll(f Frame, rssi int8) {
	now := e.clock.Now()
	if !e.req.active(now) {
		return
	}
	if isStationEcho(f.Cons, f.ConsTotal) {
		return
	}

	e.req.deadline = 0

	cmd := byte(RegCmdOff)
	if f.Data != 0 {
		cmd = RegCmdOn
	}
	notifyCmd(e.notify, cmd)
	notifyCons(e.notify, f.Cons)
	notifyConsTotal(e.notify, f.ConsTotal)

	e.logf("pca301: poll, addr = %02x%02x%02x, state = %d, cons: %d, cons_tot: %d, rssi: %d",
		f.Addr[0], f.Addr[1], f.Addr[2], f.Data, f.Cons, f.ConsTotal, rssi)
}

func (e *Engine) handleSwitch(f Frame, rssi int8) {
	now := e.clock.Now()
	matches := e.req.active(now) &&
		f.Chan == e.lastSent.Chan && f.Cmd == e.lastSent.Cmd &&
		f.Addr == e.lastSent.Addr && f.Data == e.lastSent.Data

	if !matches {
		// Not an ACK for a request we made: either a spontaneous
		// button-press event, or a stale/foreign reply. The data byte's
		// meaning is ambiguous in that case (the outlet seems to report
		// it inverted when button-triggered), so just note that the
		// outlet wants attention.
		if e.cfg.AutoPoll {
			e.autoPollPending = true
			e.autoPollAddr = f.Addr
			e.autoPollChan = f.Chan
		}
		return
	}

	e.req.deadline = 0

	cmd := byte(RegCmdOff)
	if f.Data != 0 {
		cmd = RegCmdOn
	}
	notifyCmd(e.notify, cmd)

	e.logf("pca301: switch ack, addr = %02x%02x%02x, state = %d, rssi = %d",
		f.Addr[0], f.Addr[1], f.Addr[2], f.Data, rssi)
}

// Tick advances retry/timeout handling and reconciles any pending
// auto-poll request. Call it once per main loop iteration.
func (e *Engine) Tick() {
	now := e.clock.Now()

	if e.req.deadline != 0 && now >= e.req.deadline {
		if e.req.retries != 0 {
			e.req.retries--
			e.req.deadline = now + e.cfg.ResponseTimeoutMS
			if err := e.transmit(e.req.addr, e.req.ch, e.req.cmd, e.req.data); err != nil {
				e.req.deadline = 0
			}
			return
		}

		e.req.deadline = 0
		e.Stats.RXTimeout++
		notifyAddr(e.notify, e.req.addr)
		notifyCmd(e.notify, RegCmdTimeoutRX)
		return
	}

	if e.autoPollPending {
		e.autoPollPending = false
		addr, ch := e.autoPollAddr, e.autoPollChan
		e.logf("pca301: cmd = auto-poll")
		if err := e.issue(addr, ch, CmdPoll, 0, true); err != nil {
			e.logf("pca301: auto-poll send failed: %v", err)
		}
	}
}

func (e *Engine) dump(f Frame) {
	if !e.cfg.FrameDump {
		return
	}
	e.logf("chan=%d cmd=%d addr=%02x%02x%02x data=%#x cons=%d cons_tot=%d crc=%#04x",
		f.Chan, f.Cmd, f.Addr[0], f.Addr[1], f.Addr[2], f.Data, f.Cons, f.ConsTotal, f.CRC)
}
