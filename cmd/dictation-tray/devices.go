package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/config"
	"github.com/petems/dictation-tray/internal/logging"
	"github.com/petems/dictation-tray/internal/monitor"
	"github.com/petems/dictation-tray/internal/selector"
	"github.com/petems/dictation-tray/internal/ui"
)

// devicesCmd lists input devices in the order the tray would rank them.
func devicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available microphones with their priorities",
		Long: `List the input devices found by the configured audio backend.

Devices are ranked by the "microphones" priorities in the config file. The
device the tray would record from is marked CURRENT.`,
		Example: `  dictation-tray devices
  dictation-tray devices --backend pulse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runDevices(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.Load(configPath(opts))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.NewWithLevel(logLevel(opts, cfg))

	devices, closeBackend, err := openBackend(backendName(opts, cfg), log)
	if err != nil {
		return err
	}
	defer closeBackend()

	return listDevices(ctx, devices, cfg, log, out)
}

func listDevices(ctx context.Context, catalog audio.Catalog, cfg *config.Config, log zerolog.Logger, out io.Writer) error {
	prefs := selector.LoadPreferences(cfg.Microphones, log)
	mon := monitor.New(monitor.Options{
		Catalog:     catalog,
		Preferences: prefs,
		Logger:      log,
		Preferred:   preferredDevice(cfg.Audio),
	})

	st, err := mon.Rescan(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, ui.DeviceListing(selector.Rank(st.Snapshot, prefs), st.Current))
	return err
}
