package broker

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
)

const defaultUserID = "1"

// Authenticate exchanges login credentials for a broker credential and the account it belongs to.
// Every failure is an *domain.AuthError with a message fit for the user.
func (c *Client) Authenticate(ctx context.Context, req domain.LoginRequest) (domain.Credential, domain.User, error) {
	resp, err := c.tryCandidates(ctx, loginOperation(req), domain.Credential{}, false)
	if err != nil {
		return domain.Credential{}, domain.User{}, &domain.AuthError{Message: loginFailureMessage(err)}
	}

	cred := domain.Credential{}
	if token, ok := stringField(resp.envelope.Body, "token", "accessToken"); ok {
		cred.Token = token
	} else if token, ok := stringField(resp.envelope.Object(), "token", "accessToken"); ok {
		cred.Token = token
	}
	if id, ok := sessionIDFromHeader(resp.header); ok {
		cred.SessionID = id
	}

	user := userFrom(resp.envelope.Object(), req.Email)

	profile, err := c.profile(ctx, cred, false)
	if err != nil {
		c.logger.Debug("profile lookup after login failed, using login payload", zap.Error(err))
	} else {
		user = mergeUser(user, profile)
	}

	c.logger.Info("authenticated on broker",
		zap.String("user_id", user.ID), zap.Bool("token", cred.Token != ""), zap.Bool("ssid", cred.SessionID != ""))

	return cred, user, nil
}

func loginFailureMessage(err error) string {
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		return "login failed: " + err.Error()
	}
	if exhausted.Rejection != nil {
		if exhausted.Rejection.Message != "" {
			return exhausted.Rejection.Message
		}
		return "invalid credentials"
	}

	var status *StatusError
	if errors.As(exhausted.Last, &status) {
		if status.Message != "" {
			return status.Message
		}
		if text := http.StatusText(status.Status); text != "" {
			return text
		}
		return status.Error()
	}

	return "cannot reach broker: " + exhausted.Last.Error()
}

// Logout notifies the broker that cred is no longer used. It stops at the first
// candidate that answers at all.
func (c *Client) Logout(ctx context.Context, cred domain.Credential) error {
	op := logoutOperation()
	var last error
	for _, cand := range op.candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, _, err := c.call(ctx, op, cand, cred); err != nil {
			last = err
			continue
		}
		return nil
	}
	return &ExhaustedError{Operation: op.name, Last: last}
}

// FetchProfile returns the account of the current credential.
func (c *Client) FetchProfile(ctx context.Context) (domain.User, error) {
	cred := c.credential()
	if cred.IsZero() {
		return domain.User{}, domain.ErrUnauthenticated
	}
	return c.profile(ctx, cred, true)
}

// profile runs with rotate unset during login, before the credential is stored.
func (c *Client) profile(ctx context.Context, cred domain.Credential, rotate bool) (domain.User, error) {
	resp, err := c.tryCandidates(ctx, profileOperation(), cred, rotate)
	if err != nil {
		return domain.User{}, err
	}
	obj := resp.envelope.Object()
	if obj == nil {
		return domain.User{}, &ShapeMismatch{Reason: "profile payload is not an object"}
	}
	return userFrom(obj, ""), nil
}

func userFrom(obj map[string]any, email string) domain.User {
	u := domain.User{ID: defaultUserID, Email: email, Name: email, Balance: decimal.Zero}
	if obj == nil {
		return u
	}
	if id, ok := stringField(obj, "userId", "id"); ok {
		u.ID = id
	}
	if v, ok := stringField(obj, "email"); ok {
		u.Email = v
		if u.Name == "" {
			u.Name = v
		}
	}
	if v, ok := stringField(obj, "name", "username"); ok {
		u.Name = v
	}
	if v, ok := decimalField(obj, "balance", "amount"); ok {
		u.Balance = v
	}
	return u
}

func mergeUser(base, profile domain.User) domain.User {
	if profile.ID != "" && profile.ID != defaultUserID {
		base.ID = profile.ID
	}
	if profile.Email != "" {
		base.Email = profile.Email
	}
	if profile.Name != "" {
		base.Name = profile.Name
	}
	if !profile.Balance.IsZero() {
		base.Balance = profile.Balance
	}
	return base
}

// FetchBalance never fails: when no endpoint reports funds the configured default
// is returned with Fallback set.
func (c *Client) FetchBalance(ctx context.Context) domain.Balance {
	cred := c.credential()
	if cred.IsZero() {
		return c.defaultBalance
	}

	resp, err := c.tryCandidates(ctx, balanceOperation(), cred, true)
	if err != nil {
		c.logger.Warn("balance unavailable, using default", zap.Error(err))
		return c.defaultBalance
	}

	// an answering broker is authoritative, a missing or zero field reads as zero
	obj := resp.envelope.Object()
	amount, _ := decimalField(obj, "balance", "amount")
	currency := c.defaultBalance.Currency
	if v, ok := stringField(obj, "currency"); ok {
		currency = strings.ToUpper(v)
	}
	return domain.Balance{Amount: amount, Currency: currency}
}

// PlaceTrade opens a binary option. With simulated fills enabled an acknowledgment
// is fabricated when no endpoint confirms the placement.
func (c *Client) PlaceTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeAck, error) {
	if err := req.Validate(); err != nil {
		return domain.TradeAck{}, err
	}

	cred := c.credential()
	if cred.IsZero() {
		if c.simulateFills {
			return c.simulatedAck(req, "not authenticated"), nil
		}
		return domain.TradeAck{}, domain.ErrUnauthenticated
	}

	resp, err := c.tryCandidates(ctx, tradeOperation(req), cred, true)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TradeAck{}, ctxErr
		}
		if c.simulateFills {
			c.logger.Warn("trade not confirmed by broker, simulating fill",
				zap.Stringer("trade", req), zap.Error(err))
			return c.simulatedAck(req, "no endpoint confirmed the placement"), nil
		}
		return domain.TradeAck{}, placementError(err)
	}

	ack := domain.TradeAck{ID: uuid.NewString()}
	obj := resp.envelope.Object()
	if id, ok := stringField(obj, "id", "tradeId", "optionId"); ok {
		ack.ID = id
	}
	if msg := message(resp.envelope.Body); msg != "" {
		ack.Message = msg
	}
	return ack, nil
}

func (c *Client) simulatedAck(req domain.TradeRequest, reason string) domain.TradeAck {
	return domain.TradeAck{
		ID:        uuid.NewString(),
		Simulated: true,
		Message:   "simulated " + req.Direction.String() + ": " + reason,
	}
}

// placementError converts an exhausted placement into the trade error taxonomy.
func placementError(err error) error {
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		return &domain.NetworkError{Path: opTrade, Err: err}
	}
	if exhausted.Rejection != nil {
		return &domain.TradeRejected{Message: exhausted.Rejection.Message}
	}

	var (
		netErr     *domain.NetworkError
		timeoutErr *domain.TimeoutError
	)
	if errors.As(exhausted.Last, &netErr) {
		return netErr
	}
	if errors.As(exhausted.Last, &timeoutErr) {
		return timeoutErr
	}
	return &domain.NetworkError{Path: opTrade, Err: exhausted.Last}
}

// FetchTradeResult asks the broker how an option resolved.
func (c *Client) FetchTradeResult(ctx context.Context, tradeID string) (domain.TradeResult, error) {
	cred := c.credential()
	if cred.IsZero() {
		return c.simulatedResult(tradeID, domain.ErrUnauthenticated)
	}

	resp, err := c.tryCandidates(ctx, resultOperation(tradeID), cred, true)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TradeResult{}, ctxErr
		}
		return c.simulatedResult(tradeID, placementError(err))
	}

	outcome := domain.OutcomeLoss
	if obj := resp.envelope.Object(); obj != nil && boolField(obj, "win") {
		outcome = domain.OutcomeWin
	}
	return domain.TradeResult{TradeID: tradeID, Outcome: outcome, Message: message(resp.envelope.Body)}, nil
}

func (c *Client) simulatedResult(tradeID string, cause error) (domain.TradeResult, error) {
	if !c.simulateFills {
		return domain.TradeResult{}, cause
	}
	outcome := domain.OutcomeLoss
	if c.coin() {
		outcome = domain.OutcomeWin
	}
	return domain.TradeResult{
		TradeID:   tradeID,
		Outcome:   outcome,
		Simulated: true,
		Message:   "simulated result",
	}, nil
}

// FetchAssets lists tradable instruments, falling back to the default catalogue.
func (c *Client) FetchAssets(ctx context.Context) []domain.Asset {
	cred := c.credential()
	if cred.IsZero() {
		return domain.DefaultAssets()
	}

	resp, err := c.tryCandidates(ctx, assetsOperation(), cred, true)
	if err != nil {
		c.logger.Warn("asset list unavailable, using defaults", zap.Error(err))
		return domain.DefaultAssets()
	}

	items, _ := resp.envelope.Object()["assets"].([]any)
	assets := make([]domain.Asset, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v != "" {
				assets = append(assets, domain.Asset{Symbol: v, Name: v})
			}
		case map[string]any:
			symbol, ok := stringField(v, "symbol", "id", "name")
			if !ok {
				continue
			}
			name, ok := stringField(v, "name", "title")
			if !ok {
				name = symbol
			}
			assets = append(assets, domain.Asset{Symbol: symbol, Name: name})
		}
	}
	if len(assets) == 0 {
		return domain.DefaultAssets()
	}
	return assets
}

func defaultCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return false
	}
	return n.Int64() == 1
}
