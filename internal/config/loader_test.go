// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsRequireSecret(t *testing.T) {
	_, err := NewLoader("", "test").Load()
	require.Error(t, err, "missing callback secret must fail validation")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9000\"\ncallback_secret: \"from-file\"\ntask_timeout: 30m\n",
	), 0o600))

	t.Setenv("SETTLED_LISTEN", ":9100")
	t.Setenv("SETTLED_CALLBACK_SECRET", "from-env")

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	require.Equal(t, ":9100", cfg.ListenAddr, "env beats file")
	require.Equal(t, "from-env", cfg.CallbackSecret)
	require.Equal(t, 30*time.Minute, cfg.TaskTimeout, "file beats defaults")
}

func TestLoadWithoutFileMatchesDefaults(t *testing.T) {
	t.Setenv("SETTLED_CALLBACK_SECRET", "s")

	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	want := Default()
	want.Version = "test"
	want.CallbackSecret = "s"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne_addr: \":9000\"\n"), 0o600))

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
}

func TestParseHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("SETTLED_TEST_INT", "not-a-number")
	require.Equal(t, 7, ParseInt("SETTLED_TEST_INT", 7))

	t.Setenv("SETTLED_TEST_DUR", "eleven minutes")
	require.Equal(t, time.Minute, ParseDuration("SETTLED_TEST_DUR", time.Minute))

	t.Setenv("SETTLED_TEST_BOOL", "yep")
	require.True(t, ParseBool("SETTLED_TEST_BOOL", true))
}

func TestValidateTracingEndpoint(t *testing.T) {
	cfg := Default()
	cfg.CallbackSecret = "s"
	cfg.TracingEnabled = true
	require.Error(t, cfg.Validate())

	cfg.TracingEndpoint = "localhost:4318"
	require.NoError(t, cfg.Validate())
}
