package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RobotConfiguration holds the parameters of the automated trade cycle.
type RobotConfiguration struct {
	// Active is the single source of truth for whether the cycle loop continues.
	Active        bool            `json:"active"`
	CallCount     int             `json:"call_count"`
	PutCount      int             `json:"put_count"`
	Stake         decimal.Decimal `json:"stake"`
	Asset         string          `json:"asset"`
	ExpirySeconds int             `json:"expiry_seconds"`
}

// DefaultRobotConfiguration returns two CALLs and three PUTs of 10 on EURUSD for 60s.
func DefaultRobotConfiguration() RobotConfiguration {
	return RobotConfiguration{
		CallCount:     2,
		PutCount:      3,
		Stake:         decimal.NewFromInt(10),
		Asset:         "EURUSD",
		ExpirySeconds: 60,
	}
}

// Validate checks configuration bounds.
func (c RobotConfiguration) Validate() error {
	if c.CallCount < 0 {
		return errors.Errorf("call count must not be negative, got %d", c.CallCount)
	}
	if c.PutCount < 0 {
		return errors.Errorf("put count must not be negative, got %d", c.PutCount)
	}
	if c.CallCount+c.PutCount == 0 {
		return errors.New("cycle must contain at least one operation")
	}
	if c.Stake.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("stake must be positive, got %s", c.Stake.String())
	}
	if strings.TrimSpace(c.Asset) == "" {
		return errors.New("asset is required")
	}
	if c.ExpirySeconds <= 0 {
		return errors.Errorf("expiry must be positive, got %d", c.ExpirySeconds)
	}
	return nil
}

// RequiredBalance returns the stake times the number of operations in one cycle.
func (c RobotConfiguration) RequiredBalance() decimal.Decimal {
	return c.Stake.Mul(decimal.NewFromInt(int64(c.CallCount + c.PutCount)))
}

// Request builds the placement request for one operation of the cycle.
func (c RobotConfiguration) Request(direction Direction) TradeRequest {
	return TradeRequest{
		Direction:     direction,
		Stake:         c.Stake,
		Asset:         c.Asset,
		ExpirySeconds: c.ExpirySeconds,
	}
}
