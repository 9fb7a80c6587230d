package internal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sweeney/kiosk-control/internal/backlight"
	"github.com/sweeney/kiosk-control/internal/browser"
	"github.com/sweeney/kiosk-control/internal/controller"
	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/gpio"
	"github.com/sweeney/kiosk-control/internal/mqtt"
	"github.com/sweeney/kiosk-control/internal/plugin"
	"github.com/sweeney/kiosk-control/internal/plugin/motion"
	"github.com/sweeney/kiosk-control/internal/policy"
	"github.com/sweeney/kiosk-control/internal/power"
	"github.com/sweeney/kiosk-control/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type kiosk struct {
	store   *facts.Store
	driver  *browser.FakeDriver
	light   *backlight.FakeBacklight
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	ctrl    *controller.Controller
}

func newKiosk(idle time.Duration, plugins ...plugin.Plugin) *kiosk {
	k := &kiosk{
		store:   facts.New(),
		driver:  &browser.FakeDriver{},
		light:   &backlight.FakeBacklight{},
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
	}
	k.ctrl = controller.New(controller.Config{
		Policy: policy.Config{
			IdleOff:           idle,
			ManualTimeout:     time.Minute,
			HypoThresholdMmol: 4.0,
			TrendingGuardMmol: 0.5,
			FallingDirections: map[string]bool{"SingleDown": true},
		},
		Views: map[string]string{
			"clock":      "https://clock.example.test",
			"nightscout": "https://ns.example.test",
		},
		Playlist:      []policy.PlaylistEntry{{View: "clock", Duration: time.Hour}},
		BrightnessOn:  200,
		BrightnessDim: 0,
		Tick:          5 * time.Millisecond,
		ShutdownGrace: 200 * time.Millisecond,
	}, controller.Deps{
		Store:      k.store,
		Plugins:    plugin.NewManager(plugins, 200*time.Millisecond, zerolog.Nop()),
		Browser:    k.driver,
		Backlight:  k.light,
		Power:      &power.FakeRequester{},
		Publisher:  k.pub,
		MQTTStatus: k.pub,
		Tracker:    k.tracker,
		Log:        zerolog.Nop(),
	})
	return k
}

func (k *kiosk) start(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.ctrl.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("controller did not stop")
		}
	}
}

// TestIntegrationMotionKeepsScreenOn runs the controller with the motion
// plugin reading a PIR sensor that always reports movement.
func TestIntegrationMotionKeepsScreenOn(t *testing.T) {
	reader := gpio.NewFakeReader([]bool{true})
	pir := motion.New(motion.Config{Poll: 2 * time.Millisecond, Hold: time.Hour}, reader, zerolog.Nop())
	k := newKiosk(30*time.Millisecond, pir)
	stop := k.start(t)

	require.Eventually(t, func() bool {
		return k.tracker.Snapshot().Why == policy.ReasonPluginInhibit
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, k.store.Bool(facts.MotionActive))

	snap := k.tracker.Snapshot()
	require.True(t, snap.ScreenOn)
	require.Equal(t, []string{"motion.recent"}, snap.Inhibit)

	var doc status.StatusJSON
	require.NoError(t, json.Unmarshal(status.FormatJSON(snap), &doc))
	require.Equal(t, "plugin_inhibit", doc.Status.Why)

	stop()

	require.Empty(t, k.light.Calls(), "screen never left the on state")
	require.Equal(t, []string{"https://clock.example.test"}, k.driver.URLs())
	require.True(t, reader.Closed(), "plugin stop releases the sensor")
	require.True(t, k.driver.Terminated())
}

// TestIntegrationIdleThenAlert lets the screen idle off, then feeds a low
// glucose reading and expects the alert view on a lit screen.
func TestIntegrationIdleThenAlert(t *testing.T) {
	k := newKiosk(20 * time.Millisecond)
	stop := k.start(t)
	defer stop()

	require.Eventually(t, func() bool {
		s := k.tracker.Snapshot()
		return s.Ready && !s.ScreenOn
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"brightness=0", "power=false"}, k.light.Calls())

	k.store.Set(facts.NightscoutSGVMmol, 3.4)
	k.store.Set(facts.NightscoutDirection, "Flat")

	require.Eventually(t, func() bool {
		s := k.tracker.Snapshot()
		return s.ScreenOn && s.Why == policy.ReasonNightscoutAlert
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		urls := k.driver.URLs()
		return len(urls) > 0 && urls[len(urls)-1] == "https://ns.example.test"
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"brightness=0", "power=false", "brightness=200", "power=true"}, k.light.Calls())
	require.True(t, k.store.Bool(facts.NightscoutAlert))

	var sawOn bool
	for _, e := range k.pub.Events() {
		if e.Type == policy.EventScreenOn && e.Why == policy.ReasonNightscoutAlert {
			sawOn = true
		}
	}
	require.True(t, sawOn, "SCREEN_ON transition published")
	require.Equal(t, "STARTUP", k.pub.SystemEvents()[0].Event)
}
