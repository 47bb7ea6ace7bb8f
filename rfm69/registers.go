// Copyright (c) 2017, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package rfm69

// Register addresses, masks and shifts for the HopeRF RFM69 (Semtech
// SX1231) transceiver. Named and grouped the way the datasheet's register
// map does, one block per register.
const (
	regFIFO = 0x00

	// 0x01 RegOpMode
	regOpMode    = 0x01
	mskOpModeMode = 0x07
	shfOpModeMode = 2

	opModeStandby = 0x01
	opModeTX      = 0x03
	opModeRX      = 0x04

	// 0x03/0x04 RegBitrate
	regBitrateMSB = 0x03
	regBitrateLSB = 0x04

	// 0x05/0x06 RegFdev
	regFdevMSB = 0x05
	regFdevLSB = 0x06

	// 0x07-0x09 RegFrf
	regFrfMSB = 0x07
	regFrfMID = 0x08
	regFrfLSB = 0x09

	// 0x0a RegOsc1
	regOsc1          = 0x0a
	mskOsc1RCCalStart = 0x01
	shfOsc1RCCalStart = 7
	osc1RCCalStart    = 1
	mskOsc1RCCalDone  = 0x01
	shfOsc1RCCalDone  = 6
	osc1RCCalDone     = 1

	// 0x11 RegPaLevel
	regPaLevel          = 0x11
	mskPaLevelPAOn      = 0x07
	shfPaLevelPAOn      = 5
	mskPaLevelOutputPwr = 0x1f
	shfPaLevelOutputPwr = 0

	pa0On = 0x04
	pa1On = 0x02
	pa2On = 0x01

	// 0x13 RegOcp
	regOCP       = 0x13
	mskOCPOn     = 0x01
	shfOCPOn     = 4

	// 0x19 RegRxBw
	regRxBw       = 0x19
	mskRxBwExp    = 0x07
	shfRxBwExp    = 0

	// 0x23/0x24 RegRssiConfig/RegRssiValue
	regRSSIConfig     = 0x23
	regRSSIValue      = 0x24
	mskRSSIDone       = 0x01
	shfRSSIDone       = 1
	rssiDone          = 1
	mskRSSIStart      = 0x01
	shfRSSIStart      = 0
	rssiStart         = 1

	// 0x25/0x26 RegDioMapping1/2
	regDioMapping1        = 0x25
	regDioMapping2        = 0x26
	mskDioMapping         = 0x03
	mskDioMapping2Clkout  = 0x07
	shfDioMapping2Clkout  = 0
	clkoutOff             = 0x07

	// 0x27 RegIrqFlags1
	regIRQFlags1       = 0x27
	mskIRQ1ModeReady   = 0x01
	shfIRQ1ModeReady   = 7
	mskIRQ1RXReady     = 0x01
	shfIRQ1RXReady     = 6
	mskIRQ1TXReady     = 0x01
	shfIRQ1TXReady     = 5

	// 0x28 RegIrqFlags2
	regIRQFlags2         = 0x28
	mskIRQ2FifoOverrun   = 0x01
	shfIRQ2FifoOverrun   = 4
	mskIRQ2PacketSent    = 0x01
	shfIRQ2PacketSent    = 3
	mskIRQ2PayloadReady  = 0x01
	shfIRQ2PayloadReady  = 2

	// 0x29 RegRssiThresh
	regRSSIThresh = 0x29

	// 0x2e/0x2f RegSyncConfig/RegSyncValue1
	regSyncConfig      = 0x2e
	regSyncValue1      = 0x2f
	mskSyncConfigOn    = 0x01
	shfSyncConfigOn    = 7
	mskSyncConfigSize  = 0x07
	shfSyncConfigSize  = 3

	// 0x37 RegPacketConfig1
	regPacketConfig1           = 0x37
	mskPktCfg1Format           = 0x01
	shfPktCfg1Format           = 7
	mskPktCfg1CRCOn            = 0x01
	shfPktCfg1CRCOn            = 4
	mskPktCfg1CRCAutoClearOff  = 0x01
	shfPktCfg1CRCAutoClearOff  = 3

	// 0x38 RegPayloadLength
	regPayloadLength = 0x38

	// 0x3c RegFifoThresh
	regFIFOThresh              = 0x3c
	mskFIFOThreshTXStartCond   = 0x01
	shfFIFOThreshTXStartCond   = 7
	fifoLevel                  = 0
	fifoNotEmpty               = 1

	// 0x3d RegPacketConfig2
	regPacketConfig2       = 0x3d
	mskPktCfg2RXRestart    = 0x01
	shfPktCfg2RXRestart    = 2
	rxRestart              = 1

	// 0x4e/0x4f RegTemp1/RegTemp2
	regTemp1           = 0x4e
	regTemp2           = 0x4f
	mskTempMeasStart   = 0x01
	shfTempMeasStart   = 3
	tempMeasStart      = 1
	mskTempMeasRunning = 0x01
	shfTempMeasRunning = 2

	// 0x5a/0x5c RegTestPa1/2, 20dBm high power PA mode
	regTestPA1        = 0x5a
	regTestPA2        = 0x5c
	testPA1Normal     = 0x55
	testPA1_20dBmMode = 0x5d
	testPA2Normal     = 0x70
	testPA2_20dBmMode = 0x7c

	spiWrite = 0x80

	dio0RXCRCOkTXPacketSent   = 0x00
	dio0RXPayloadReadyTXReady = 0x01
)

// Frequency reference constants, see SetFrequency.
const (
	freqFXOSCHz = 32 * 1000 * 1000
	freqFStepHz = freqFXOSCHz / 524288
)

// Mode is the RFM69 operating mode as stored in RegOpMode's Mode field.
type Mode byte

const (
	ModeStandby Mode = opModeStandby
	ModeTX      Mode = opModeTX
	ModeRX      Mode = opModeRX
)

// DIO0 mapping values and ancillary constants callers need when
// configuring a protocol on top of this driver.
const (
	DIO0RXPayloadReadyTXReady = dio0RXPayloadReadyTXReady
	DIO0RXCRCOkTXPacketSent   = dio0RXCRCOkTXPacketSent
	ClkOutOff                 = clkoutOff
	FIFONotEmpty              = fifoNotEmpty
	FIFOLevel                 = fifoLevel
)

func (m Mode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeTX:
		return "tx"
	case ModeRX:
		return "rx"
	default:
		return "unknown"
	}
}
