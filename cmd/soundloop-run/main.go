package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/cmd"
	"github.com/vsariola/soundloop/engine"
	"github.com/vsariola/soundloop/midiin"
	"github.com/vsariola/soundloop/rpc"
	"github.com/vsariola/soundloop/version"
)

var configFile = flag.String("config", "", "read the engine configuration from a .yml `file`")
var backendName = flag.String("backend", "", "override the backend (oto or devin)")
var deviceID = flag.String("device", "", "override the device id")
var bpm = flag.Float64("bpm", 0, "override the tempo in beats per minute")
var duration = flag.Duration("t", 0, "stop after the given duration; 0 runs until interrupted")
var statusAddress = flag.String("status", "", "serve the loop status over rpc on `address`")
var midiInput = flag.String("midi-input", "", "connect MIDI input to matching device name prefix")
var listCards = flag.Bool("l", false, "list the devices of the backend and exit")
var printConfig = flag.Bool("print-config", false, "print the effective configuration and exit")
var versionFlag = flag.Bool("v", false, "print version")

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.Current)
		os.Exit(0)
	}
	config, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if *printConfig {
		b, err := config.Marshal()
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(b)
		os.Exit(0)
	}
	if *listCards {
		backend, err := cmd.NewBackend(config.Backend)
		if err != nil {
			log.Fatal(err)
		}
		ids, names := backend.ListCards()
		for i := range ids {
			fmt.Printf("%s\t%s\n", ids[i], names[i])
		}
		os.Exit(0)
	}

	device, err := cmd.OpenDevice(config)
	if err != nil {
		log.Fatal(err)
	}
	loop := engine.FromConfig(device, config)

	sequencer, err := midiin.New(cmd.NewMIDIDriver())
	if err != nil {
		log.Fatal(err)
	}
	if config.MIDIInput != "" {
		if id, ok := sequencer.FindByPrefix(config.MIDIInput); ok {
			if err := sequencer.SetDevice(id); err != nil {
				log.Printf("failed to select MIDI input '%s': %v", id, err)
			}
			if err := loop.AddSequencer(sequencer); err != nil {
				log.Printf("failed to add MIDI input '%s': %v", id, err)
			}
		} else {
			log.Printf("no MIDI input device found with prefix '%s'", config.MIDIInput)
		}
	}

	if config.StatusAddress != "" {
		l, err := rpc.Listen(config.StatusAddress, loop)
		if err != nil {
			log.Fatal(err)
		}
		defer l.Close()
		log.Printf("serving status on %v", l.Addr())
	}

	tone := loop.NewUnit(engine.KindAudio, &cmd.Tone{Soundcard: device, Freq: 440, Gain: 0.25})
	if err := tone.Enable(soundloop.ScopePlayback, 1); err != nil {
		log.Fatal(err)
	}
	device.SetAudio([]soundloop.Processor{tone.Processor()})
	if err := loop.AddAudio(tone); err != nil {
		log.Fatal(err)
	}
	if err := loop.Start(); err != nil {
		log.Fatal(err)
	}
	log.Printf("soundloop %s playing on %s device %q, %v", version.Current.Short(), device.Backend().Name(), device.Device(), device.Presets())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	select {
	case <-interrupt:
	case <-timeout:
	}

	// let the units drain so the last buffer is not cut short
	loop.Drain()
	deadline := time.Now().Add(config.WorkerTimeout)
	for device.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(device.Presets().Period())
	}
	loop.Stop()
	status := loop.Status()
	log.Printf("stopped after %d periods, %d xruns", status.Tic, status.Xruns)
}

func loadConfig() (soundloop.Config, error) {
	config := soundloop.DefaultConfig()
	if *configFile != "" {
		f, err := os.Open(*configFile)
		if err != nil {
			return config, fmt.Errorf("could not read config file %v: %v", *configFile, err)
		}
		defer f.Close()
		if config, err = soundloop.LoadConfig(f); err != nil {
			return config, fmt.Errorf("could not parse config file %v: %w", *configFile, err)
		}
	}
	if *backendName != "" {
		config.Backend = *backendName
	}
	if *deviceID != "" {
		config.Device = *deviceID
	}
	if *bpm != 0 {
		config.BPM = *bpm
	}
	if *statusAddress != "" {
		config.StatusAddress = *statusAddress
	}
	if *midiInput != "" {
		config.MIDIInput = *midiInput
	}
	return config, config.Validate()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Sound loop runner. Plays a test tone through the audio loop.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
