package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "HTTP_PORT", "PORT", "CHAT_IDENTITIES", "CALL_RING_TIMEOUT", "CALL_COOLDOWN", "ATTACHMENT_MAX_BYTES", "WS_MAX_MESSAGE_SIZE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"rav", "mon"}, cfg.Identities)
	assert.Equal(t, 30*time.Second, cfg.CallRingTimeout)
	assert.Equal(t, 5*time.Second, cfg.CallCooldown)
	assert.Equal(t, 2<<20, cfg.AttachmentMaxBytes)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_IDENTITIES", " Alice , BOB ")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("CALL_RING_TIMEOUT", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Identities)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.CallRingTimeout)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("CALL_COOLDOWN", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "CALL_COOLDOWN")
}

func TestValidateIdentities(t *testing.T) {
	t.Setenv("CHAT_IDENTITIES", "rav")
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "exactly two")

	cfg.Identities = []string{"rav", "rav"}
	assert.ErrorContains(t, cfg.Validate(), "distinct")
}

func TestValidateFrameCarriesLargestAttachment(t *testing.T) {
	t.Setenv("CHAT_IDENTITIES", "")
	t.Setenv("ATTACHMENT_MAX_BYTES", "")
	t.Setenv("WS_MAX_MESSAGE_SIZE", "2621440")
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "WS_MAX_MESSAGE_SIZE")

	cfg.WSMaxMessageSize = MinFrameSize(cfg.AttachmentMaxBytes)
	assert.NoError(t, cfg.Validate())
	assert.Greater(t, int64(4194304), MinFrameSize(2<<20), "default frame limit fits the default attachment ceiling")
}
