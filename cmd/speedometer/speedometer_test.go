package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedometer/internal/accel"
	"github.com/banshee-data/speedometer/internal/api"
	"github.com/banshee-data/speedometer/internal/config"
	"github.com/banshee-data/speedometer/internal/monitoring"
	"github.com/banshee-data/speedometer/internal/serialmux"
	"github.com/banshee-data/speedometer/internal/testutil"
	"github.com/banshee-data/speedometer/internal/timeutil"
)

func setFlag(t *testing.T, name, value string) {
	t.Helper()
	f := flag.CommandLine.Lookup(name)
	require.NotNil(t, f, "flag %s", name)
	old := f.Value.String()
	require.NoError(t, flag.CommandLine.Set(name, value))
	t.Cleanup(func() { f.Value.Set(old) })
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListen, cfg.GetListen())
	assert.Equal(t, config.DefaultScaleFactor, cfg.GetScaleFactor())
}

func TestApplyFlagOverrides(t *testing.T) {
	setFlag(t, "scale", "0.25")
	setFlag(t, "interval", "250ms")
	setFlag(t, "listen", "127.0.0.1:5050")

	listenFromFile := "0.0.0.0:9999"
	portFromFile := "/dev/ttyUSB0"
	cfg := &config.SpeedometerConfig{Listen: &listenFromFile, SerialPort: &portFromFile}

	require.NoError(t, applyFlagOverrides(cfg, map[string]bool{"scale": true, "interval": true, "listen": true}))

	assert.Equal(t, 0.25, cfg.GetScaleFactor())
	assert.Equal(t, 250*time.Millisecond, cfg.GetUpdateInterval())
	assert.Equal(t, "127.0.0.1:5050", cfg.GetListen())
	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialPort(), "unset flags must not clobber the file")
}

func TestApplyFlagOverrides_Invalid(t *testing.T) {
	setFlag(t, "max-errors", "-2")

	err := applyFlagOverrides(&config.SpeedometerConfig{}, map[string]bool{"max-errors": true})
	assert.Error(t, err)
}

func TestExplicitFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("dev", false, "")
	fs.String("listen", "", "")
	require.NoError(t, fs.Parse([]string{"-dev"}))

	assert.Equal(t, map[string]bool{"dev": true}, explicitFlags(fs))
}

func TestLoadFixtures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixtures.txt")
	require.NoError(t, os.WriteFile(path, []byte("1,0,0\n\n  0,1,0  \n"), 0o644))

	assert.Equal(t, []string{"1,0,0", "0,1,0"}, loadFixtures(path))
}

func TestLoadFixtures_Fallback(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, []string{defaultFixtureLine}, loadFixtures(filepath.Join(dir, "missing.txt")))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	assert.Equal(t, []string{defaultFixtureLine}, loadFixtures(empty))
}

func TestNewSource(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	mux := serialmux.NewDisabledSerialMux()

	src, serialSrc, err := newSource(sourceSerial, mux, clock)
	require.NoError(t, err)
	assert.NotNil(t, serialSrc)
	assert.Same(t, serialSrc, src)

	src, serialSrc, err = newSource(sourceMock, mux, clock)
	require.NoError(t, err)
	assert.Nil(t, serialSrc)
	assert.IsType(t, &accel.MockSource{}, src)

	_, _, err = newSource("gps", mux, clock)
	assert.ErrorContains(t, err, "unknown source")
}

func TestNewSerialMux_Modes(t *testing.T) {
	cfg := &config.SpeedometerConfig{}

	m, err := newSerialMux(cfg, false, sourceMock)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, m)

	setFlag(t, "fixtures", filepath.Join(t.TempDir(), "missing.txt"))
	m, err = newSerialMux(cfg, true, sourceSerial)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.SerialMux[*serialmux.MockSerialPort]{}, m)
	require.NoError(t, m.Close())
}

// TestSpeedometerEndToEnd feeds a reading through a serial port into the
// sampling loop and reads it back over HTTP.
func TestSpeedometerEndToEnd(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	go mux.Monitor(ctx)

	clock := timeutil.NewMockClock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	src, serialSrc, err := newSource(sourceSerial, mux, clock)
	require.NoError(t, err)
	go serialSrc.Run(ctx)

	require.Eventually(t, func() bool { return mux.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	port.Feed("1.0,0.0,0.0")

	est := newEstimator(src, &config.SpeedometerConfig{}, clock)
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, est.Step(ctx))

	rec := httptest.NewRecorder()
	api.NewServer(est).ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/speed"))

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.JSONEq(t, `{"speed":0.18}`, rec.Body.String())
}
