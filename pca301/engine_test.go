package pca301

import (
	"testing"

	"github.com/mcbachmann/pca301gw/rfm69"
	"github.com/mcbachmann/pca301gw/timer"
)

// fakeSPI models just enough of an RFM69 register file for Engine tests:
// ModeReady is always set so every ModeSet completes immediately.
const (
	regIRQFlags1   = 0x27
	irqModeReadyOn = 1 << 7
)

type fakeSPI struct {
	regs [256]byte
}

func newFakeSPI() *fakeSPI {
	s := &fakeSPI{}
	s.regs[regIRQFlags1] = irqModeReadyOn
	return s
}

func (s *fakeSPI) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	addr := w[0]
	if addr&0x80 != 0 {
		addr &^= 0x80
		for i := 1; i < len(w); i++ {
			s.regs[int(addr)+i-1] = w[i]
		}
		return nil
	}
	r[0] = 0
	for i := 1; i < len(w); i++ {
		r[i] = s.regs[int(addr)+i-1]
	}
	return nil
}

func (s *fakeSPI) Speed(hz int64) error     { return nil }
func (s *fakeSPI) Configure(m, b int) error { return nil }
func (s *fakeSPI) Close() error             { return nil }

// newTestEngine wires an Engine to a fake radio and starts a goroutine that
// keeps the ISR flag raised, standing in for the real RFM69 interrupt line:
// every Send's TX-complete wait is satisfied almost immediately instead of
// riding out the real 200ms mode-ready timeout. Callers must invoke the
// returned stop func once done.
func newTestEngine(cfg Config) (e *Engine, clock *timer.Clock, stop func()) {
	spi := newFakeSPI()
	clock = timer.New()
	radio := rfm69.New(spi, clock, false)
	e = NewEngine(radio, clock, nil, cfg)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				radio.NotifyISR()
			}
		}
	}()
	return e, clock, func() { close(done) }
}

func TestPairUnpairedOutletGetsDefaultChannel(t *testing.T) {
	e, clock, stop := newTestEngine(Config{PairEnable: true, DefaultChannel: 3})
	defer clock.Close()
	defer stop()

	f := Frame{Cmd: CmdPair, Chan: ChanNone, Addr: [3]byte{1, 2, 3}}
	raw := f.Encode()
	e.Receive(raw, 0)

	if e.lastSent.Cmd != CmdPair || e.lastSent.Chan != 3 {
		t.Fatalf("expected a pairing reply on channel 3, got %+v", e.lastSent)
	}
}

func TestPairIgnoredWhenDisabled(t *testing.T) {
	e, clock, stop := newTestEngine(Config{PairEnable: false, DefaultChannel: 3})
	defer clock.Close()
	defer stop()

	f := Frame{Cmd: CmdPair, Chan: ChanNone, Addr: [3]byte{1, 2, 3}}
	raw := f.Encode()
	e.Receive(raw, 0)

	if e.lastSent.Cmd == CmdPair {
		t.Fatalf("expected no pairing reply while pairing is disabled")
	}
}

func TestPollSuccessClearsOutstandingRequest(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	addr := [3]byte{1, 2, 3}
	if err := e.Poll(addr, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !e.busy() {
		t.Fatalf("expected Poll to leave a request outstanding")
	}

	reply := Frame{Cmd: CmdPoll, Chan: 1, Addr: addr, Data: SwitchOn, Cons: 42, ConsTotal: 4242}
	e.Receive(reply.Encode(), 5)

	if e.busy() {
		t.Fatalf("expected the matching poll reply to clear the outstanding request")
	}
	if e.Stats.RXTimeout != 0 {
		t.Fatalf("did not expect a timeout to be recorded")
	}
}

func TestPollReplyIgnoresStationEcho(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	addr := [3]byte{1, 2, 3}
	if err := e.Poll(addr, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	echo := Frame{Cmd: CmdPoll, Chan: 1, Addr: addr, Cons: IDStation, ConsTotal: IDStation}
	e.Receive(echo.Encode(), 0)

	if !e.busy() {
		t.Fatalf("a station echo must not satisfy the outstanding poll")
	}
}

func TestSwitchAckMatchesLastSentFrame(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	addr := [3]byte{9, 9, 9}
	if err := e.Switch(addr, 2, true); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	ack := Frame{Cmd: CmdSwitch, Chan: 2, Addr: addr, Data: SwitchOn, Cons: IDStation, ConsTotal: IDStation}
	e.Receive(ack.Encode(), 0)

	if e.busy() {
		t.Fatalf("expected the ack to clear the outstanding request")
	}
}

func TestUnsolicitedSwitchTriggersAutoPoll(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	addr := [3]byte{4, 5, 6}
	spontaneous := Frame{Cmd: CmdSwitch, Chan: 7, Addr: addr, Data: SwitchOn}
	e.Receive(spontaneous.Encode(), 0)

	if !e.autoPollPending {
		t.Fatalf("expected an unmatched switch event to schedule an auto-poll")
	}

	e.Tick()
	if !e.busy() {
		t.Fatalf("expected Tick to issue the auto-poll as a new outstanding request")
	}
	if e.req.cmd != CmdPoll || e.req.addr != addr || e.req.ch != 7 {
		t.Fatalf("auto-poll issued against the wrong outlet: %+v", e.req)
	}
}

func TestUnsolicitedSwitchIgnoredWithoutAutoPoll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoPoll = false
	e, clock, stop := newTestEngine(cfg)
	defer clock.Close()
	defer stop()

	spontaneous := Frame{Cmd: CmdSwitch, Chan: 7, Addr: [3]byte{4, 5, 6}, Data: SwitchOn}
	e.Receive(spontaneous.Encode(), 0)

	if e.autoPollPending {
		t.Fatalf("auto-poll must stay disabled per Config.AutoPoll")
	}
}

func TestSendRejectedByBudgetLeavesNoOutstandingRequest(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer stop()
	clock.Close() // freeze time: every send then costs exactly TimeBudgetExtra ms

	radioDeplete(e)

	err := e.Poll([3]byte{1, 2, 3}, 1)
	if err == nil {
		t.Fatalf("expected the send to be rejected by the duty-cycle budget")
	}
	if e.busy() {
		t.Fatalf("a failed send must not leave a request outstanding")
	}
	if e.Stats.TXErrors == 0 {
		t.Fatalf("expected TXErrors to be incremented")
	}
}

// radioDeplete drives the radio's send budget below TimeBudgetMin using only
// exported behavior. With the clock frozen, every completed send costs
// exactly TimeBudgetExtra ms and nothing is recovered between calls.
func radioDeplete(e *Engine) {
	raw := make([]byte, FrameLen)
	for i := 0; i < rfm69.TimeBudgetMax; i++ {
		if err := e.radio.Send(raw); err != nil {
			return
		}
	}
}

func TestRetryExhaustionRecordsTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 1
	cfg.ResponseTimeoutMS = 10
	e, clock, stop := newTestEngine(cfg)
	defer clock.Close()
	defer stop()

	if err := e.Poll([3]byte{1, 2, 3}, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	clock.Set(clock.Now() + 11)
	e.Tick() // first timeout: one retry left, resend
	if !e.busy() {
		t.Fatalf("expected a retry to re-arm the outstanding request")
	}

	clock.Set(clock.Now() + 11)
	e.Tick() // second timeout: retries exhausted
	if e.busy() {
		t.Fatalf("expected retries to be exhausted and the request cleared")
	}
	if e.Stats.RXTimeout != 1 {
		t.Fatalf("got RXTimeout=%d want 1", e.Stats.RXTimeout)
	}
}

func TestReceiveDropsInvalidCRC(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	f := Frame{Cmd: CmdPoll, Chan: 1, Addr: [3]byte{1, 2, 3}}
	raw := f.Encode()
	raw[5] ^= 0xff

	e.Receive(raw, 0)

	if e.Stats.RXCRCInvalid != 1 {
		t.Fatalf("got RXCRCInvalid=%d want 1", e.Stats.RXCRCInvalid)
	}
	if e.Stats.RX != 0 {
		t.Fatalf("a CRC-invalid frame must not count as a good receive")
	}
}

func TestSwitchRefusedWhileBusy(t *testing.T) {
	e, clock, stop := newTestEngine(DefaultConfig())
	defer clock.Close()
	defer stop()

	addr := [3]byte{1, 2, 3}
	if err := e.Poll(addr, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := e.Switch(addr, 1, true); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}
