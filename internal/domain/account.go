package domain

import "github.com/shopspring/decimal"

// Credential holds the opaque broker authentication state.
type Credential struct {
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// Epoch identifies the login that issued the credential. It is assigned by the
	// session store and never persisted.
	Epoch uint64 `json:"-"`
}

// IsZero reports whether neither a token nor a session id is present.
func (c Credential) IsZero() bool {
	return c.Token == "" && c.SessionID == ""
}

// LoginRequest carries the broker credentials supplied by the user.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User describes the broker account as reported after login.
type User struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Balance holds the account funds.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	// Fallback is set when no broker endpoint reported the balance.
	Fallback bool `json:"fallback,omitempty"`
}

// Asset describes a tradable instrument.
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// DefaultAssets is the catalogue used whenever the broker does not list its instruments.
func DefaultAssets() []Asset {
	return []Asset{
		{Symbol: "EURUSD", Name: "EUR/USD"},
		{Symbol: "GBPUSD", Name: "GBP/USD"},
		{Symbol: "USDJPY", Name: "USD/JPY"},
		{Symbol: "AUDUSD", Name: "AUD/USD"},
		{Symbol: "USDCAD", Name: "USD/CAD"},
		{Symbol: "EURGBP", Name: "EUR/GBP"},
		{Symbol: "EURJPY", Name: "EUR/JPY"},
		{Symbol: "GBPJPY", Name: "GBP/JPY"},
	}
}
