// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Command pca301gw is a gateway between ELV PCA301 wireless mains outlets
// and an RFM69 radio, exposing every piece of state and configuration
// through a RegReg register table reachable over stdin and, optionally,
// MQTT.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mcbachmann/pca301gw/cli"
	"github.com/mcbachmann/pca301gw/mqttpub"
	"github.com/mcbachmann/pca301gw/nvs"
	"github.com/mcbachmann/pca301gw/pca301"
	"github.com/mcbachmann/pca301gw/regreg"
	"github.com/mcbachmann/pca301gw/rfm69"
	"github.com/mcbachmann/pca301gw/spibus"
	"github.com/mcbachmann/pca301gw/thread"
	"github.com/mcbachmann/pca301gw/timer"
)

func main() {
	help := flag.Bool("help", false, "print usage help")
	configFile := flag.String("config", "pca301gw.toml", "path to config file")
	flag.Parse()

	if *help {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file.toml]\n", os.Args[0])
		os.Exit(1)
	}

	cfg := &Config{}
	rawConfig, err := ioutil.ReadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot access config file: %s\n", err)
		os.Exit(1)
	}
	if err := toml.Unmarshal(rawConfig, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cannot parse config file: %s\n", err)
		os.Exit(1)
	}

	logger := func(format string, v ...interface{}) {}
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		logger = log.Printf
	}

	spi, intrPin, err := openRadioBus(cfg.Radio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open radio bus: %s\n", err)
		os.Exit(1)
	}

	if err := intrPin.In(spibus.RisingEdge); err != nil {
		fmt.Fprintf(os.Stderr, "cannot arm interrupt pin: %s\n", err)
		os.Exit(1)
	}

	clock := timer.New()
	radio := rfm69.New(spi, clock, cfg.Radio.IsHW)
	radio.SetLogger(logger)
	go watchInterrupt(radio, intrPin)

	store := nvs.Open(cfg.NVSPath)
	tuning := loadRadioTuning(store, logger)

	engine := pca301.NewEngine(radio, clock, nil, pca301Config(cfg.Pca301))
	engine.SetLogger(pca301.LogPrintf(logger))

	adapter := pca301.NewAdapter(radio, engine)
	if err := adapter.Configure(tuning); err != nil {
		fmt.Fprintf(os.Stderr, "cannot configure radio: %s\n", err)
		os.Exit(1)
	}

	w := &wiring{engine: engine, radio: radio, clock: clock, store: store, tuning: tuning}
	table, notify := buildTable(*cfg, w)
	engine.SetNotifier(notify)

	if cfg.Mqtt.Host != "" {
		pub, err := mqttpub.New(mqttpub.Config{
			Host:        cfg.Mqtt.Host,
			Port:        cfg.Mqtt.Port,
			User:        cfg.Mqtt.User,
			Password:    cfg.Mqtt.Password,
			TopicPrefix: cfg.Mqtt.TopicPrefix,
		}, mqttpub.LogPrintf(logger))
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot connect to MQTT broker: %s\n", err)
			os.Exit(2)
		}
		defer pub.Close()
		table.Observe(pub)
		table.Access(&regreg.Access{Addr: addrMqttFlags + 1, Write: true, Buf: []byte{1}, Len: 1})
	}

	log.Printf("pca301gw ready")
	runLoop(table, engine, adapter)
}

// runLoop is the gateway's single-threaded main loop: drain a command from
// stdin if one is waiting, then give the protocol engine and the radio
// adapter a tick each. There is exactly one goroutine driving protocol
// state; everything else (the clock, the interrupt watcher) only sets
// flags for this loop to read.
func runLoop(table *regreg.Table, engine *pca301.Engine, adapter *pca301.Adapter) {
	if err := thread.Realtime(); err != nil {
		log.Printf("thread: could not set realtime priority: %v (continuing anyway)", err)
	}

	cmds := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmds <- scanner.Text()
		}
		close(cmds)
	}()

	for {
		select {
		case line, ok := <-cmds:
			if !ok {
				return
			}
			if err := cli.Dispatch(table, os.Stdout, line); err != nil {
				fmt.Fprintf(os.Stderr, "cli: %s\n", err)
			}
		default:
		}

		engine.Tick()
		adapter.Pump()
		time.Sleep(time.Millisecond)
	}
}

func watchInterrupt(radio *rfm69.Radio, pin spibus.GPIO) {
	for {
		if pin.WaitForEdge(time.Second) {
			radio.NotifyISR()
		}
	}
}

func openRadioBus(cfg RadioConfig) (spibus.SPI, spibus.GPIO, error) {
	switch cfg.Backend {
	case "embd":
		spi := spibus.NewEmbdSPI()
		pin := spibus.NewEmbdGPIO(cfg.IntrPin)
		if pin == nil {
			return nil, nil, fmt.Errorf("cannot open interrupt pin %q", cfg.IntrPin)
		}
		return spi, pin, nil
	case "periph", "":
		if err := spibus.InitHost(); err != nil {
			return nil, nil, err
		}
		spi, err := spibus.NewPeriphSPI(cfg.SpiBus)
		if err != nil {
			return nil, nil, err
		}
		pin, err := spibus.NewPeriphGPIO(cfg.IntrPin)
		if err != nil {
			return nil, nil, err
		}
		return spi, pin, nil
	default:
		return nil, nil, fmt.Errorf("unknown radio backend %q", cfg.Backend)
	}
}

func pca301Config(cfg Pca301Config) pca301.Config {
	return pca301.Config{
		DefaultChannel:    cfg.DefaultChannel,
		PairEnable:        cfg.PairEnable,
		AutoPoll:          cfg.AutoPoll,
		Retries:           cfg.Retries,
		ResponseTimeoutMS: cfg.ResponseTimeoutMS,
		FrameDump:         cfg.FrameDump,
	}
}

// loadRadioTuning reads the persisted RFM69 tuning from NVS, falling back
// to (and re-persisting) the factory defaults if the stored blob is
// missing or fails its CRC -- matching the original firmware's "invalid
// NVS is not an error, just a reason to reinitialize" behavior.
func loadRadioTuning(store *nvs.Store, log func(string, ...interface{})) pca301.RadioConfig {
	buf := make([]byte, radioTuningSize)
	valid, err := store.Read(buf)
	if err != nil {
		log("nvs: read failed: %v, using defaults", err)
		return pca301.DefaultRadioConfig()
	}
	if !valid {
		log("nvs: no valid radio tuning stored, seeding defaults")
		cfg := pca301.DefaultRadioConfig()
		store.Write(encodeRadioTuning(cfg))
		return cfg
	}
	return decodeRadioTuning(buf)
}
