package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TradeRequest describes a single option placement.
type TradeRequest struct {
	// Direction CALL or PUT.
	Direction Direction
	// Stake amount risked on the option.
	Stake decimal.Decimal
	// Asset symbol, e.g. EURUSD.
	Asset string
	// ExpirySeconds option lifetime.
	ExpirySeconds int
}

// Validate checks the request before it reaches the broker.
func (r TradeRequest) Validate() error {
	if !r.Direction.IsValid() {
		return errors.Errorf("invalid direction %d", r.Direction)
	}
	if r.Stake.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("stake must be positive, got %s", r.Stake.String())
	}
	if strings.TrimSpace(r.Asset) == "" {
		return errors.New("asset is required")
	}
	if r.ExpirySeconds <= 0 {
		return errors.Errorf("expiry must be positive, got %d", r.ExpirySeconds)
	}
	return nil
}

// String returns a human-readable string representation.
func (r TradeRequest) String() string {
	return fmt.Sprintf("%s %s stake: %s expiry: %ds", r.Asset, r.Direction.String(), r.Stake.String(), r.ExpirySeconds)
}

// TradeAck is the broker acknowledgment of a placement.
type TradeAck struct {
	ID string
	// Simulated is set when no broker endpoint confirmed the placement
	// and the fill was fabricated locally.
	Simulated bool
	Message   string
}

// TradeRecord is an entry of the trade history log.
type TradeRecord struct {
	ID            string          `json:"id"`
	PlacedAt      time.Time       `json:"placed_at"`
	Direction     Direction       `json:"direction"`
	Stake         decimal.Decimal `json:"stake"`
	Asset         string          `json:"asset"`
	ExpirySeconds int             `json:"expiry_seconds"`
	Outcome       Outcome         `json:"outcome"`
	Simulated     bool            `json:"simulated,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// NewTradeRecord builds a pending record for an acknowledged placement.
func NewTradeRecord(req TradeRequest, ack TradeAck, placedAt time.Time) TradeRecord {
	return TradeRecord{
		ID:            ack.ID,
		PlacedAt:      placedAt,
		Direction:     req.Direction,
		Stake:         req.Stake,
		Asset:         req.Asset,
		ExpirySeconds: req.ExpirySeconds,
		Outcome:       OutcomePending,
		Simulated:     ack.Simulated,
		Note:          ack.Message,
	}
}

// NewFailedTradeRecord builds a LOSS record for a placement the broker refused or never answered.
func NewFailedTradeRecord(id string, req TradeRequest, placedAt time.Time, cause error) TradeRecord {
	rec := TradeRecord{
		ID:            id,
		PlacedAt:      placedAt,
		Direction:     req.Direction,
		Stake:         req.Stake,
		Asset:         req.Asset,
		ExpirySeconds: req.ExpirySeconds,
		Outcome:       OutcomeLoss,
	}
	if cause != nil {
		rec.Note = cause.Error()
	}
	return rec
}

// TradeResult is the resolution of a placed option.
type TradeResult struct {
	TradeID   string
	Outcome   Outcome
	Simulated bool
	Message   string
}
