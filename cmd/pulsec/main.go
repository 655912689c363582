package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/timzifer/pulsec/config"
	"github.com/timzifer/pulsec/internal/logging"
)

func main() {
	setupPath := flag.String("setup", "setup.yaml", "Path to hardware setup file")
	healthcheck := flag.Bool("healthcheck", false, "Validate the setup silently and exit")
	flag.Parse()

	if *healthcheck {
		if _, err := config.Load(*setupPath); err != nil {
			fmt.Fprintf(os.Stderr, "setup check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*setupPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load setup")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	printSetupSummary(cfg)
}

func printSetupSummary(cfg *config.Setup) {
	fmt.Printf("Setup %q\n", cfg.Name)
	fmt.Printf("  Sample rate: %g Sa/s\n", cfg.SampleRate)
	fmt.Printf("  Grid: %g ns\n", cfg.Grid)
	fmt.Println()

	if len(cfg.AWGChannels) > 0 {
		fmt.Println("AWG channels:")
		for _, ch := range cfg.AWGChannels {
			notes := make([]string, 0, 3)
			if ch.Attenuation != 1 {
				notes = append(notes, fmt.Sprintf("attenuation %g", ch.Attenuation))
			}
			if ch.Delay != 0 {
				notes = append(notes, fmt.Sprintf("delay %g ns", ch.Delay))
			}
			if ch.Compensation != nil {
				notes = append(notes, fmt.Sprintf("compensation [%g, %g] mV",
					ch.Compensation.Min, ch.Compensation.Max))
			}
			fmt.Printf("  - %s (%s/%d)", ch.Name, ch.Module, ch.ChannelNumber)
			if len(notes) > 0 {
				fmt.Printf(" [%s]", strings.Join(notes, ", "))
			}
			fmt.Println()
		}
		fmt.Println()
	}

	if len(cfg.IQChannels) > 0 {
		fmt.Println("IQ channels:")
		for _, ch := range cfg.IQChannels {
			fmt.Printf("  - %s (LO %g Hz)\n", ch.Name, ch.LO)
			for _, qubit := range ch.Qubits {
				fmt.Printf("      qubit %s at %g Hz\n", qubit.Name, qubit.ResonanceFrequency)
			}
			if len(ch.Markers) > 0 {
				fmt.Printf("      markers: %s\n", strings.Join(ch.Markers, ", "))
			}
		}
		fmt.Println()
	}

	if len(cfg.MarkerChannels) > 0 {
		fmt.Println("Marker channels:")
		for _, ch := range cfg.MarkerChannels {
			fmt.Printf("  - %s (%s/%d)", ch.Name, ch.Module, ch.ChannelNumber)
			if ch.Sequencer != "" {
				fmt.Printf(" sequencer %s", ch.Sequencer)
			}
			fmt.Println()
		}
		fmt.Println()
	}

	if len(cfg.DigitizerChannels) > 0 {
		fmt.Println("Digitizer channels:")
		for _, ch := range cfg.DigitizerChannels {
			fmt.Printf("  - %s (%s)\n", ch.Name, ch.Module)
		}
		fmt.Println()
	}

	if len(cfg.VirtualGates) > 0 {
		fmt.Println("Virtual gates:")
		for _, gate := range cfg.VirtualGates {
			targets := make([]string, 0, len(gate.Targets))
			for name, weight := range gate.Targets {
				targets = append(targets, fmt.Sprintf("%s: %g", name, weight))
			}
			sort.Strings(targets)
			fmt.Printf("  - %s -> {%s}\n", gate.Name, strings.Join(targets, ", "))
		}
		fmt.Println()
	}

	fmt.Println("Setup check completed successfully.")
}
