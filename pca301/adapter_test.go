package pca301

import (
	"testing"

	"github.com/mcbachmann/pca301gw/rfm69"
	"github.com/mcbachmann/pca301gw/timer"
)

const (
	regIRQFlags2        = 0x28
	irqPayloadReadyMask = 1 << 2
)

// fifoSPI extends the plain flat-register model with a real queue behind
// address 0 (RegFifo) and a PayloadReady bit that tracks whether anything
// remains queued, since Adapter.Pump relies on both to drain exactly one
// frame per call the way the real chip would present it.
type fifoSPI struct {
	regs [256]byte
	fifo []byte
}

func newFIFOSPI() *fifoSPI {
	s := &fifoSPI{}
	s.regs[regIRQFlags1] = irqModeReadyOn
	return s
}

func (s *fifoSPI) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	addr := w[0]
	if addr&0x80 != 0 {
		addr &^= 0x80
		if addr == 0x00 {
			s.fifo = append(s.fifo, w[1:]...)
			return nil
		}
		for i := 1; i < len(w); i++ {
			s.regs[int(addr)+i-1] = w[i]
		}
		return nil
	}

	r[0] = 0
	switch addr {
	case 0x00:
		for i := 1; i < len(w); i++ {
			if len(s.fifo) == 0 {
				r[i] = 0
				continue
			}
			r[i] = s.fifo[0]
			s.fifo = s.fifo[1:]
		}
	case regIRQFlags2:
		val := s.regs[regIRQFlags2] &^ irqPayloadReadyMask
		if len(s.fifo) > 0 {
			val |= irqPayloadReadyMask
		}
		for i := 1; i < len(w); i++ {
			r[i] = val
		}
	default:
		for i := 1; i < len(w); i++ {
			r[i] = s.regs[int(addr)+i-1]
		}
	}
	return nil
}

func (s *fifoSPI) Speed(hz int64) error     { return nil }
func (s *fifoSPI) Configure(m, b int) error { return nil }
func (s *fifoSPI) Close() error             { return nil }

func newTestAdapter(cfg Config) (a *Adapter, radio *rfm69.Radio, spi *fifoSPI, clock *timer.Clock) {
	spi = newFIFOSPI()
	clock = timer.New()
	radio = rfm69.New(spi, clock, false)
	engine := NewEngine(radio, clock, nil, cfg)
	a = NewAdapter(radio, engine)
	return a, radio, spi, clock
}

func TestConfigureLeavesRadioInRX(t *testing.T) {
	a, radio, _, clock := newTestAdapter(DefaultConfig())
	defer clock.Close()

	if err := a.Configure(DefaultRadioConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := radio.ModeGet(); got != rfm69.ModeRX {
		t.Fatalf("ModeGet = %v, want rx", got)
	}
}

func TestPumpDeliversCompleteFrameToEngine(t *testing.T) {
	a, radio, spi, clock := newTestAdapter(DefaultConfig())
	defer clock.Close()

	if err := a.Configure(DefaultRadioConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	f := Frame{Cmd: CmdPoll, Chan: 1, Addr: [3]byte{1, 2, 3}, Cons: IDStation, ConsTotal: IDStation}
	raw := f.Encode()
	spi.fifo = append(spi.fifo, raw[:]...)
	radio.NotifyISR()

	a.Pump()

	if a.engine.Stats.RX != 1 {
		t.Fatalf("expected the engine to have received one frame, got RX=%d", a.engine.Stats.RX)
	}
}

func TestPumpIgnoresPartialFrames(t *testing.T) {
	a, radio, spi, clock := newTestAdapter(DefaultConfig())
	defer clock.Close()

	if err := a.Configure(DefaultRadioConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	spi.fifo = append(spi.fifo, 0xaa)
	radio.NotifyISR()
	a.Pump()

	if a.engine.Stats.RX != 0 {
		t.Fatalf("a single byte must not be mistaken for a complete frame")
	}
}
