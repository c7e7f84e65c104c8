package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "lendingd", "test", slog.LevelInfo)
	logger.Info("offer added", "offerId", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "offer added", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "lendingd", "", ParseLevel("warn"))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger, closer := SetupWithOptions("lendingd", "", Options{File: path, MaxSizeMB: 1})
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("passphrase", "secret").Value.String())
	require.Equal(t, "boom", MaskField("error", "boom").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
}

func TestSecretsAreNotAllowlisted(t *testing.T) {
	for _, key := range []string{"token", "hmac_secret", "passphrase", "signature"} {
		require.Falsef(t, IsAllowlisted(key), "%s must stay redacted: %v", key, RedactionAllowlist())
	}
	require.True(t, IsAllowlisted("Caller"))
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "lendingd", "", slog.LevelInfo)
	logger.Info("auth", "token", "abc123", "passphrase", "", "caller", "lend1xyz")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, "", line["passphrase"])
	require.Equal(t, "lend1xyz", line["caller"])
}
