package web

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/internal/robot"
	"github.com/vadiminshakov/investbot/pkg/response"
)

const dashboardTrades = 20

type loginResponse struct {
	Success bool        `json:"success"`
	User    domain.User `json:"user"`
}

type sessionResponse struct {
	Authenticated bool `json:"authenticated"`
}

type robotView struct {
	Config    domain.RobotConfiguration `json:"config"`
	State     robot.State               `json:"state"`
	Counters  robot.Counters            `json:"counters"`
	LastError string                    `json:"last_error,omitempty"`
}

type dashboardView struct {
	Balance domain.Balance       `json:"balance"`
	Assets  []domain.Asset       `json:"assets"`
	Robot   robotView            `json:"robot"`
	Trades  []domain.TradeRecord `json:"trades"`
}

// robotConfigRequest is a partial configuration; omitted fields keep their current value.
type robotConfigRequest struct {
	CallCount     *int             `json:"call_count"`
	PutCount      *int             `json:"put_count"`
	Stake         *decimal.Decimal `json:"stake"`
	Asset         *string          `json:"asset"`
	ExpirySeconds *int             `json:"expiry_seconds"`
}

func (r robotConfigRequest) apply(cfg domain.RobotConfiguration) domain.RobotConfiguration {
	if r.CallCount != nil {
		cfg.CallCount = *r.CallCount
	}
	if r.PutCount != nil {
		cfg.PutCount = *r.PutCount
	}
	if r.Stake != nil {
		cfg.Stake = *r.Stake
	}
	if r.Asset != nil {
		cfg.Asset = *r.Asset
	}
	if r.ExpirySeconds != nil {
		cfg.ExpirySeconds = *r.ExpirySeconds
	}
	return cfg
}

func (s *Server) handleLogin(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid login payload")
		return
	}

	user, err := s.session.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if _, _, err := s.robot.Prime(c.Request.Context()); err != nil {
		s.logger.Warn("failed to prime robot after login", zap.Error(err))
	}

	response.Success(c, loginResponse{Success: true, User: user})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.robot.Stop()
	if err := s.session.Logout(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	response.Success(c, sessionResponse{Authenticated: false})
}

func (s *Server) handleSession(c *gin.Context) {
	response.Success(c, sessionResponse{Authenticated: s.session.IsAuthenticated()})
}

func (s *Server) handleBalance(c *gin.Context) {
	response.Success(c, s.robot.RefreshBalance(c.Request.Context()))
}

func (s *Server) handleAssets(c *gin.Context) {
	response.Success(c, s.robot.Assets(c.Request.Context()))
}

func (s *Server) handleDashboard(c *gin.Context) {
	balance, assets, err := s.robot.Prime(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	response.Success(c, dashboardView{
		Balance: balance,
		Assets:  assets,
		Robot:   s.robotView(),
		Trades:  s.robot.Trades(dashboardTrades),
	})
}

func (s *Server) robotView() robotView {
	v := robotView{
		Config:   s.robot.Config(),
		State:    s.robot.State(),
		Counters: s.robot.Counters(),
	}
	if err := s.robot.LastError(); err != nil {
		v.LastError = err.Error()
	}
	return v
}

func (s *Server) handleRobot(c *gin.Context) {
	response.Success(c, s.robotView())
}

func (s *Server) handleConfigure(c *gin.Context) {
	var req robotConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid configuration payload")
		return
	}
	if err := s.robot.Configure(req.apply(s.robot.Config())); err != nil {
		s.writeError(c, err)
		return
	}
	response.Success(c, s.robotView())
}

func (s *Server) handleStart(c *gin.Context) {
	cfg := s.robot.Config()
	if c.Request.ContentLength > 0 {
		var req robotConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid configuration payload")
			return
		}
		cfg = req.apply(cfg)
	}

	if _, known := s.robot.Balance(); !known {
		s.robot.RefreshBalance(c.Request.Context())
	}

	if err := s.robot.Start(s.runCtx, cfg); err != nil {
		s.writeError(c, err)
		return
	}
	response.Success(c, s.robotView())
}

func (s *Server) handleStop(c *gin.Context) {
	s.robot.Stop()
	response.Success(c, s.robotView())
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	response.Success(c, s.robot.Trades(limit))
}

func (s *Server) handleResolve(c *gin.Context) {
	rec, err := s.robot.ResolveTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	response.Success(c, rec)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		authErr      *domain.AuthError
		insufficient *domain.InsufficientBalance
		cfgErr       *robot.ConfigError
	)

	switch {
	case errors.As(err, &authErr):
		response.Unauthorized(c, authErr.Message)
	case errors.Is(err, domain.ErrUnauthenticated):
		response.Unauthorized(c, "not authenticated")
	case errors.As(err, &insufficient):
		response.InsufficientBalance(c, insufficient.Error())
	case errors.As(err, &cfgErr):
		response.ValidationFailed(c, cfgErr.Err.Error())
	case errors.Is(err, robot.ErrAlreadyRunning):
		response.Conflict(c, err.Error())
	case errors.Is(err, robot.ErrTradeNotFound):
		response.NotFound(c, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c, "An unexpected error occurred")
	}
}
