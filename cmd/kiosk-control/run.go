package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/backlight"
	"github.com/sweeney/kiosk-control/internal/browser"
	"github.com/sweeney/kiosk-control/internal/config"
	"github.com/sweeney/kiosk-control/internal/controller"
	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/gpio"
	"github.com/sweeney/kiosk-control/internal/ipc"
	"github.com/sweeney/kiosk-control/internal/logging"
	"github.com/sweeney/kiosk-control/internal/mqtt"
	"github.com/sweeney/kiosk-control/internal/plugin"
	"github.com/sweeney/kiosk-control/internal/plugin/homeassistant"
	"github.com/sweeney/kiosk-control/internal/plugin/inputactivity"
	"github.com/sweeney/kiosk-control/internal/plugin/motion"
	"github.com/sweeney/kiosk-control/internal/plugin/nightscout"
	"github.com/sweeney/kiosk-control/internal/power"
	"github.com/sweeney/kiosk-control/internal/status"
	"github.com/sweeney/kiosk-control/internal/web"
)

func run(cfg *config.Config) error {
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	plugins := plugin.NewManager(buildPlugins(cfg, log), cfg.Controller.ShutdownGrace(), log)

	var (
		pub        mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.TopicPrefix,
		}, log)
		defer p.Close()
		pub, mqttStatus = p, p
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      cfg.Controller.Tick().Milliseconds(),
		HeartbeatMs: cfg.Controller.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Views:       cfg.ViewNames(),
		Plugins:     pluginNames(plugins.Plugins()),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	argv := cfg.System.PoweroffCommand
	if len(argv) == 0 {
		argv = power.DefaultArgv
	}
	ctrl := controller.New(controller.Config{
		Policy:        cfg.PolicyConfig(),
		Views:         cfg.Views,
		Playlist:      cfg.PlaylistEntries(),
		BrightnessOn:  cfg.Screen.BrightnessOn,
		BrightnessDim: cfg.Screen.BrightnessDim,
		Tick:          cfg.Controller.Tick(),
		ShutdownGrace: cfg.Controller.ShutdownGrace(),
		Heartbeat:     cfg.Controller.Heartbeat(),
	}, controller.Deps{
		Store:   facts.New(),
		Plugins: plugins,
		Browser: browser.NewChromium(browser.Config{
			Bin:         cfg.Chromium.Bin,
			UserDataDir: cfg.Chromium.UserDataDir,
			ExtraFlags:  cfg.Chromium.ExtraFlags,
		}, log),
		Backlight:  backlight.Sysfs{Dir: cfg.Screen.BacklightSysfs},
		Power:      power.NewCommand(argv, log),
		Publisher:  pub,
		MQTTStatus: mqttStatus,
		Tracker:    tracker,
		Log:        log,
	})

	srv, err := ipc.Listen(ipc.Bus(cfg.IPC.Bus), ctrl, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.HTTP.Addr != "" {
		httpSrv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server")
			}
		}()
		defer httpSrv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	ctx, stop := signalContext()
	defer stop()

	log.Info().
		Str("version", version).
		Int("views", len(cfg.Views)).
		Int("playlist", len(cfg.Playlist)).
		Strs("plugins", pluginNames(plugins.Plugins())).
		Msg("starting")
	return ctrl.Run(ctx)
}

// buildPlugins constructs the enabled plugins. A motion sensor that cannot
// be opened disables only that plugin.
func buildPlugins(cfg *config.Config, log zerolog.Logger) []plugin.Plugin {
	var plugins []plugin.Plugin
	p := cfg.Plugins

	if p.InputActivity.Enabled {
		plugins = append(plugins, inputactivity.New(inputactivity.Config{
			DeviceHint: p.InputActivity.DeviceHint,
		}, log))
	}
	if p.HomeAssistant.Enabled {
		plugins = append(plugins, homeassistant.New(homeassistant.Config{
			WSURL:                  p.HomeAssistant.WSURL,
			Token:                  p.HomeAssistant.Token,
			EntitySun:              p.HomeAssistant.EntitySun,
			EntityProductionW:      p.HomeAssistant.EntityProductionW,
			EntityConsumptionW:     p.HomeAssistant.EntityConsumptionW,
			MinSurplusW:            p.HomeAssistant.MinSurplusW,
			RequireSunAboveHorizon: *p.HomeAssistant.RequireSunAboveHorizon,
		}, log))
	}
	if p.Nightscout.Enabled {
		plugins = append(plugins, nightscout.New(nightscout.Config{
			BaseURL:     p.Nightscout.BaseURL,
			AccessToken: p.Nightscout.AccessToken,
			Collections: p.Nightscout.Collections,
			StaleAfter:  time.Duration(p.Nightscout.StaleSeconds) * time.Second,
		}, log))
	}
	if p.Motion.Enabled {
		chip := p.Motion.Chip
		if chip == "" {
			chip = gpio.DefaultChip
		}
		pin := p.Motion.Pin
		if pin == 0 {
			pin = gpio.DefaultPin
		}
		reader, err := gpio.NewRealReader(chip, pin, p.Motion.ActiveLow)
		if err != nil {
			log.Error().Err(err).Str("plugin", motion.Name).Msg("gpio unavailable, plugin disabled")
		} else {
			plugins = append(plugins, motion.New(motion.Config{
				Poll:     time.Duration(p.Motion.PollMs) * time.Millisecond,
				Hold:     time.Duration(p.Motion.HoldSeconds) * time.Second,
				Debounce: time.Duration(p.Motion.DebounceMs) * time.Millisecond,
			}, reader, log))
		}
	}
	return plugins
}

func pluginNames(plugins []plugin.Plugin) []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name()
	}
	return names
}

// shutdownSignal is the cancellation cause recorded when a signal arrives.
type shutdownSignal struct{ sig os.Signal }

func (s shutdownSignal) Error() string { return signalName(s.sig) }

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// signalContext is cancelled on SIGINT or SIGTERM with the signal as cause.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			cancel(shutdownSignal{s})
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel(nil)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
