// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package pca301

import "github.com/mcbachmann/pca301gw/rfm69"

// RadioConfig carries the RFM69 parameters PCA301 needs, seeded from NVS
// so a retuned gateway survives a restart.
type RadioConfig struct {
	FreqCarrierKHz uint32
	BitrateBS      uint32
	RSSIThreshold  int
	FDevHz         uint32
}

// DefaultRadioConfig returns the factory tuning used when no NVS blob has
// been saved yet.
func DefaultRadioConfig() RadioConfig {
	return RadioConfig{
		FreqCarrierKHz: 868950,
		BitrateBS:      6631,
		RSSIThreshold:  -114,
		FDevHz:         45000,
	}
}

var syncWord = []byte{0x2d, 0xd4}

// Adapter configures an rfm69.Radio for PCA301 traffic and pumps bytes
// between its FIFO and an Engine.
type Adapter struct {
	radio  *rfm69.Radio
	engine *Engine
}

// NewAdapter binds radio to engine; Configure must be called once before Pump.
func NewAdapter(radio *rfm69.Radio, engine *Engine) *Adapter {
	return &Adapter{radio: radio, engine: engine}
}

// Configure programs every register PCA301 framing depends on: fixed
// 12-byte packets, no CRC (PCA301 carries its own), a 2-byte sync word,
// and DIO0 mapped to PayloadReady in RX and PacketSent in TX so RXAvailable
// and Send's packet-complete wait both work.
func (a *Adapter) Configure(cfg RadioConfig) error {
	if err := a.radio.ModeSet(rfm69.ModeStandby); err != nil {
		return err
	}

	a.radio.SetFrequency(cfg.FreqCarrierKHz)
	a.radio.SetBitrate(cfg.BitrateBS)

	a.radio.DIOMappingRX(0, rfm69.DIO0RXPayloadReadyTXReady)
	a.radio.DIOMappingTX(0, rfm69.DIO0RXCRCOkTXPacketSent)

	a.radio.ClkOut(rfm69.ClkOutOff)

	a.radio.CRCOn(false)
	a.radio.CRCAutoClearOff(true)

	a.radio.PayloadLength(FrameLen)

	a.radio.SyncWord(syncWord)
	a.radio.SyncOn(true)

	a.radio.RxBandwidthExp(2)
	a.radio.RSSIThreshold(cfg.RSSIThreshold)

	a.radio.PacketFormatVarLen(false)
	a.radio.TXStartCondition(rfm69.FIFONotEmpty)

	a.radio.SetFrequencyDeviation(cfg.FDevHz)

	if err := a.radio.ModeSet(rfm69.ModeRX); err != nil {
		return err
	}
	a.radio.FIFOClear()
	return nil
}

// Pump drains any complete frame currently sitting in the radio's FIFO
// into the engine. Call it once per main loop iteration, alongside
// Engine.Tick.
func (a *Adapter) Pump() {
	var rssi int8
	if a.radio.ISRPending() {
		rssi = int8(a.radio.RSSIValue(false))
	}

	var raw [FrameLen]byte
	n := 0
	for a.radio.RXAvailable() && n < FrameLen {
		raw[n] = a.radio.FIFOByte()
		n++
	}

	if n == FrameLen {
		a.engine.Receive(raw, rssi)
	}
}
