package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sstallion/go-hid"
)

func main() {
	var (
		daemon       = flag.Bool("daemon", false, "run continuously, alert on state changes")
		configPath   = flag.String("config", "", "config file (JSON or YAML)")
		pollInterval = flag.Float64("poll-interval", 0, "poll interval in seconds (overrides config, default 30)")
		jsonOut      = flag.Bool("json", false, "JSON output for a single read")
		list         = flag.Bool("list", false, "list matching HID devices and exit")
		vidFlag      = flag.String("vid", "", "UPS vendor ID override (hex, e.g. 0x051d)")
		pidFlag      = flag.String("pid", "", "UPS product ID override (hex, e.g. 0x0002)")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.BoolVar(verbose, "verbose", false, "verbose logging")
	flag.Parse()

	setupLogging(*verbose)
	loadDotEnv(".env")

	vid, err := parseID(*vidFlag, apcVendorID)
	if err != nil {
		logger.Error().Err(err).Msg("bad --vid")
		os.Exit(2)
	}
	pid, err := parseID(*pidFlag, apcProductID)
	if err != nil {
		logger.Error().Err(err).Msg("bad --pid")
		os.Exit(2)
	}

	if err := hid.Init(); err != nil {
		logger.Error().Err(err).Msg("HID init failed")
		os.Exit(1)
	}
	defer hid.Exit()

	if *list {
		scanDevices(os.Stdout, vid, pid)
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			logger.Error().Err(err).Str("path", *configPath).Msg("cannot load config")
			os.Exit(1)
		}
		logger.Info().Str("path", *configPath).Msg("loaded config")
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}

	reader := NewUPSReader(vid, pid)
	if err := reader.Open(); err != nil {
		logger.Error().Err(err).Msg("cannot open UPS")
		os.Exit(1)
	}
	defer reader.Close()
	logger.Info().Str("product", reader.Product).Str("serial", reader.Serial).Msg("connected")

	if !*daemon {
		status, err := reader.Read()
		if err != nil {
			logger.Error().Err(err).Msg("UPS read failed")
			os.Exit(1)
		}
		if *jsonOut {
			out, err := json.Marshal(status)
			if err != nil {
				logger.Error().Err(err).Msg("marshal failed")
				os.Exit(1)
			}
			fmt.Println(string(out))
		} else {
			fmt.Println(status.Summary())
		}
		return
	}

	registry := NewRegistryFromEnv()
	notifier := buildNotifier(cfg, registry)
	monitor := NewMonitor(cfg.Warn, cfg.Crit)

	logger.Info().
		Float64("poll_interval", cfg.PollInterval).
		Str("warn", cfg.Warn.String()).
		Str("crit", cfg.Crit.String()).
		Msg("monitoring")

	// Shutdown is only observed between cycles; there is no mid-read
	// cancellation. The deferred Close above runs on every exit path.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runLoop(ctx, reader, monitor, notifier, time.Duration(cfg.PollInterval*float64(time.Second)))
	logger.Info().Msg("stopped")
}

// runLoop is the synchronous polling loop: one blocking read per cycle,
// then a fixed sleep. A failed read skips the cycle entirely so the
// monitor state is never touched by a transient error; the next cycle is
// the only retry.
func runLoop(ctx context.Context, reader *UPSReader, monitor *Monitor, notifier Notifier, interval time.Duration) {
	for {
		status, err := reader.Read()
		if err != nil {
			logger.Error().Err(err).Msg("UPS read failed")
		} else {
			for _, ev := range monitor.Observe(status, time.Now()) {
				logger.Info().Str("event", ev.Kind).Msg(ev.Message)
				if notifier != nil {
					if err := notifier.Send(ev.Kind, ev.Status, ev.Message); err != nil {
						logger.Error().Err(err).Str("event", ev.Kind).Msg("dispatch failed")
					}
				}
			}
			logger.Debug().Msg(status.Oneliner())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// buildNotifier assembles the channel fan-out from config and
// environment. With nothing configured it returns nil and the daemon
// logs events only.
func buildNotifier(cfg MonitorConfig, reg *Registry) Notifier {
	var channels []Notifier

	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" &&
		(len(cfg.Notify.DiscordUsers) > 0 || cfg.Notify.DiscordChannel != "") {
		channels = append(channels, NewDiscordNotifier(token, cfg.Notify.DiscordUsers, cfg.Notify.DiscordChannel, reg))
	}

	if len(cfg.Notify.Email) > 0 {
		if email, err := NewEmailNotifierFromEnv(cfg.Notify.Email); err == nil {
			channels = append(channels, email)
		} else {
			logger.Warn().Err(err).Msg("email channel disabled")
		}
	}

	if len(channels) == 0 {
		logger.Warn().Msg("no notification channels configured - logging only")
		return nil
	}
	return NewMultiNotifier(channels...)
}

func parseID(s string, def uint16) (uint16, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
