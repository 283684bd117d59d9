package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/investbot/config"
)

func TestAnswersToConfig(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvBrokerURL, "")

	a := defaults()
	a.stake = "25"
	a.asset = "USDJPY"
	a.calls = "1"
	a.puts = "4"
	a.cooldown = "45s"
	a.tgToken = "123:abc"
	a.tgChatID = "99"

	file, err := a.file()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), config.GeneratedFile)
	require.NoError(t, Save(file, path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USDJPY", cfg.Robot.Asset)
	assert.Equal(t, 1, cfg.Robot.CallCount)
	assert.Equal(t, 4, cfg.Robot.PutCount)
	assert.Equal(t, 45*time.Second, cfg.Robot.Cooldown)
	assert.Equal(t, int64(99), cfg.Telegram.ChatID)
	assert.Equal(t, "25", cfg.Robot.Stake.String())
}

func TestAnswersRejectEmptyCycle(t *testing.T) {
	a := defaults()
	a.calls = "0"
	a.puts = "0"

	_, err := a.file()
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateStake("0.5"))
	assert.Error(t, validateStake("0"))
	assert.Error(t, validateStake("abc"))
	assert.NoError(t, validateCount(0)("0"))
	assert.Error(t, validateCount(1)("0"))
	assert.Error(t, notEmpty("x")("  "))
}
