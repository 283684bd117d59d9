package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRobotConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *RobotConfiguration)
		wantErr string
	}{
		{name: "default is valid", mutate: func(c *RobotConfiguration) {}},
		{name: "puts only", mutate: func(c *RobotConfiguration) { c.CallCount = 0 }},
		{name: "negative calls", mutate: func(c *RobotConfiguration) { c.CallCount = -1 }, wantErr: "call count"},
		{name: "empty cycle", mutate: func(c *RobotConfiguration) { c.CallCount, c.PutCount = 0, 0 }, wantErr: "at least one"},
		{name: "zero stake", mutate: func(c *RobotConfiguration) { c.Stake = decimal.Zero }, wantErr: "stake"},
		{name: "no asset", mutate: func(c *RobotConfiguration) { c.Asset = " " }, wantErr: "asset"},
		{name: "no expiry", mutate: func(c *RobotConfiguration) { c.ExpirySeconds = 0 }, wantErr: "expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRobotConfiguration()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRobotConfiguration_RequiredBalance(t *testing.T) {
	cfg := DefaultRobotConfiguration()
	cfg.Stake = decimal.RequireFromString("12.5")

	assert.True(t, cfg.RequiredBalance().Equal(decimal.RequireFromString("62.5")))
}
