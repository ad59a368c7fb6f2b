package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/internal/page"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, page.DefaultSelectors(), cfg.Page.Selectors)
	require.Equal(t, page.DefaultSettleDelay, cfg.Page.SettleDelay)
	require.Equal(t, credential.DefaultTTL, cfg.Credential.TTL)
	require.Equal(t, "chromium", cfg.Content.Browser)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
page:
  selectors:
    psbt_input: unsigned-psbt
  settle_delay: 750ms
relay:
  rate_limit: 5
content:
  listen: vsock://3:7000
  browser: firefox
popup:
  signer_command: ["/usr/bin/signer", "--stdin"]
`), 0o600))
	t.Setenv("PSBT_BRIDGE_PAGE_SELECTOR_APPROVE", "submit")
	t.Setenv("PSBT_BRIDGE_CREDENTIAL_TTL", "1m")
	t.Setenv("PSBT_BRIDGE_TABCLIENT_ENDPOINT", "unix:///run/bridge.sock")
	t.Setenv("PSBT_BRIDGE_TABCLIENT_DIAL_TIMEOUT", "2s")
	t.Setenv("PSBT_BRIDGE_TABCLIENT_RETRY_MAX", "10s")
	t.Setenv("PSBT_BRIDGE_POPUP_HTTP_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "unsigned-psbt", cfg.Page.Selectors.PSBTInput)
	require.Equal(t, "submit", cfg.Page.Selectors.Approve)
	require.Equal(t, "request-type", cfg.Page.Selectors.RequestType)
	require.Equal(t, 750*time.Millisecond, cfg.Page.SettleDelay)
	require.Equal(t, 5.0, cfg.Relay.RateLimit)
	require.Equal(t, time.Minute, cfg.Credential.TTL)
	require.Equal(t, "vsock://3:7000", cfg.Content.Listen)
	require.Equal(t, "firefox", cfg.Content.Browser)
	require.Equal(t, []string{"/usr/bin/signer", "--stdin"}, cfg.Popup.SignerCommand)
	require.Equal(t, "unix:///run/bridge.sock", cfg.TabClient.Endpoint)
	require.Equal(t, 3, cfg.TabClient.BreakerThreshold)
	require.Equal(t, 2*time.Second, cfg.TabClient.DialTimeout)
	require.Equal(t, 10*time.Second, cfg.TabClient.Backoff.Max)
	require.Equal(t, "s3cret", cfg.Popup.HTTPToken)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"browser": "content:\n  browser: netscape\n",
		"level":   "log:\n  level: loud\n",
		"rate":    "relay:\n  rate_limit: -1\n",
		"syntax":  "page: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, "WARN", level.String())
}
