package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/state"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// writeConfig writes a config file for a sqlite store in a temp dir.
func writeConfig(t *testing.T, extra string) (configPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "remittance.yaml")
	body := "remittance:\n" +
		"  owner: ops\n" +
		"  jwt_secret: test-secret\n" +
		"  store:\n" +
		"    driver: sqlite\n" +
		"    dsn: " + filepath.Join(dir, "ledger.db") + "\n" +
		extra
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateAndStatus(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	path := writeConfig(t, "")

	out, err := run(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied (sqlite)")

	out, err = run(t, "status", "--config", path, "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Initialized)

	// Starting the service initializes the store.
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	svc, err := buildService(context.Background(), cfg, quiet())
	require.NoError(t, err)
	require.NoError(t, svc.ledger.Stop())

	out, err = run(t, "status", "-c", path, "--json")
	require.NoError(t, err)
	report = statusReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Initialized)
	assert.Equal(t, []string{"ops"}, report.Owners)
	require.NotNil(t, report.Reconcile)
	assert.Empty(t, report.Reconcile.Discrepancies)

	out, err = run(t, "status", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "initialized:")
	assert.Contains(t, out, "balanced:")
	assert.Contains(t, out, "0.000000 (0 units)")

	out, err = run(t, "status", "-c", path, "--decimals", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "0.00 (0 units)")
	assert.NotContains(t, out, "0.000000")
}

func TestWriteStatusMajorUnits(t *testing.T) {
	var buf bytes.Buffer
	err := writeStatus(&buf, statusReport{
		Driver:      "sqlite",
		Initialized: true,
		State:       &state.State{FeePercentage: 1, TreasuryBalance: 1_500_000, EventSeq: 4},
		Owners:      []string{"ops"},
		Reconcile: &remittance.Report{
			Deposited:       50_000_000,
			Escrowed:        48_500_000,
			TreasuryBalance: 1_500_000,
			Payments:        1,
			Unclaimed:       1,
		},
	}, 6)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "1.500000 (1500000 units)")
	assert.Contains(t, out, "50.000000 (50000000 units)")
	assert.Contains(t, out, "48.500000 (48500000 units) (0.000000 stranded)")
}

func TestBuildServiceWarnsOnInProcessCustody(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	cfg, err := loadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger, err := newLogger(logConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	svc, err := buildService(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NoError(t, svc.ledger.Stop())
	assert.Contains(t, buf.String(), "in-process custody vault")
	assert.Contains(t, buf.String(), `"driver":"sqlite"`)

	// The memory store carries no such warning.
	mem := defaultConfig()
	mem.Remittance.Owner = "ops"
	mem.Remittance.JWTSecret = "test-secret"
	buf.Reset()
	svc, err = buildService(context.Background(), mem, logger)
	require.NoError(t, err)
	require.NoError(t, svc.ledger.Stop())
	assert.NotContains(t, buf.String(), "in-process custody vault")
}

func TestServiceRoutes(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	cfg := defaultConfig()
	cfg.Remittance.Owner = "ops"
	cfg.Remittance.JWTSecret = "test-secret"
	cfg.Remittance.BasePath = "/v1"

	svc, err := buildService(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.ledger.Stop() })

	for _, path := range []string{"/v1/health", "/v1/metrics"} {
		w := httptest.NewRecorder()
		svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/fee", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBuildServiceNeedsSecret(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	cfg := defaultConfig()
	cfg.Remittance.Owner = "ops"

	_, err := buildService(context.Background(), cfg, quiet())
	assert.ErrorContains(t, err, "no jwt secret")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(envJWTSecret, "from-env")

	cfg, err := loadConfig(writeConfig(t, "listen: \":9090\"\nlog:\n  level: debug\n  format: text\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "from-env", cfg.Remittance.JWTSecret)
	assert.Equal(t, "/remittance", cfg.Remittance.BasePath, "defaults survive a partial file")
	assert.True(t, cfg.Metrics)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(logConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(logConfig{Format: "xml"}, io.Discard)
	assert.Error(t, err)
	_, err = newLogger(logConfig{Level: "loud"}, io.Discard)
	assert.Error(t, err)
}
