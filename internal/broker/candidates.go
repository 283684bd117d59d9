package broker

import (
	"strconv"

	"github.com/vadiminshakov/investbot/internal/domain"
)

// timeoutClass picks the per-call deadline of an operation.
type timeoutClass int

const (
	readTimeout timeoutClass = iota
	writeTimeout
)

// candidate is one guessed endpoint for a logical operation.
type candidate struct {
	path string
	body any
}

// operation holds the ordered candidates tried until one yields a recognized success.
type operation struct {
	name          string
	timeout       timeoutClass
	requireMarker bool
	candidates    []candidate
	// accept optionally rejects a normalized success whose payload lacks required fields.
	accept func(Envelope) bool
}

const (
	opLogin   = "login"
	opLogout  = "logout"
	opProfile = "profile"
	opBalance = "balance"
	opTrade   = "trade"
	opResult  = "result"
	opAssets  = "assets"
)

func loginOperation(req domain.LoginRequest) operation {
	full := map[string]any{
		"email":    req.Email,
		"password": req.Password,
		"platform": "web",
		"remember": true,
	}
	minimal := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	return operation{
		name:    opLogin,
		timeout: writeTimeout,
		candidates: []candidate{
			{path: "/login", body: full},
			{path: "/auth/login", body: full},
			{path: "/login", body: minimal},
		},
	}
}

func logoutOperation() operation {
	return operation{
		name:       opLogout,
		timeout:    readTimeout,
		candidates: emptyBodies("/logout", "/auth/logout", "/api/logout"),
	}
}

func profileOperation() operation {
	return operation{
		name:       opProfile,
		timeout:    readTimeout,
		candidates: emptyBodies("/getProfile", "/profile", "/user/profile", "/api/profile"),
	}
}

func balanceOperation() operation {
	return operation{
		name:       opBalance,
		timeout:    readTimeout,
		candidates: emptyBodies("/getProfile", "/profile", "/balance", "/getBalance"),
	}
}

func tradeOperation(req domain.TradeRequest) operation {
	side := req.Direction.Wire()
	body := map[string]any{
		"asset":     req.Asset,
		"amount":    req.Stake.InexactFloat64(),
		"time":      req.ExpirySeconds,
		"action":    side,
		"direction": side,
		"type":      side,
		"isDemo":    false,
	}
	return operation{
		name:    opTrade,
		timeout: writeTimeout,
		candidates: []candidate{
			{path: "/buyOption", body: body},
			{path: "/trade", body: body},
			{path: "/option/buy", body: body},
			{path: "/api/trade", body: body},
		},
	}
}

func resultOperation(tradeID string) operation {
	var optionID any
	if n, err := strconv.ParseInt(tradeID, 10, 64); err == nil {
		optionID = n
	}
	body := map[string]any{
		"optionId": optionID,
		"tradeId":  tradeID,
		"id":       tradeID,
	}
	return operation{
		name:          opResult,
		timeout:       readTimeout,
		requireMarker: true,
		candidates: []candidate{
			{path: "/getOptionResult", body: body},
			{path: "/trade/result", body: body},
			{path: "/option/result", body: body},
		},
	}
}

func assetsOperation() operation {
	return operation{
		name:          opAssets,
		timeout:       readTimeout,
		requireMarker: true,
		candidates:    emptyBodies("/getInitData", "/assets", "/getAssets", "/api/assets"),
		accept: func(env Envelope) bool {
			obj := env.Object()
			if obj == nil {
				return false
			}
			list, ok := obj["assets"].([]any)
			return ok && len(list) > 0
		},
	}
}

func emptyBodies(paths ...string) []candidate {
	out := make([]candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, candidate{path: p, body: map[string]any{}})
	}
	return out
}
