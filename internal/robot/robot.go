// Package robot runs the automated CALL/PUT trade cycle.
package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/investbot/internal/domain"
)

var (
	// ErrAlreadyRunning a run goroutine is still alive.
	ErrAlreadyRunning = errors.New("robot is already running")
	// ErrTradeNotFound no record with the requested id.
	ErrTradeNotFound = errors.New("trade not found")
)

// ConfigError is returned when a robot configuration is rejected.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "invalid robot configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// State describes where the robot is in its lifecycle.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Broker provides the broker operations the robot relies on.
type Broker interface {
	PlaceTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeAck, error)
	FetchTradeResult(ctx context.Context, tradeID string) (domain.TradeResult, error)
	FetchBalance(ctx context.Context) domain.Balance
	FetchAssets(ctx context.Context) []domain.Asset
}

// Journal persists the trade history.
type Journal interface {
	AppendCycle(records []domain.TradeRecord) error
	UpdateOutcome(id string, outcome domain.Outcome, simulated bool, note string) error
	Load() ([]domain.TradeRecord, error)
}

// Notifier receives human-readable robot events.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Timings holds the delays of the cycle.
type Timings struct {
	// InterTrade pause between consecutive placements of one direction.
	InterTrade time.Duration
	// InterBatch pause between the CALL and the PUT batch.
	InterBatch time.Duration
	// Cooldown pause between cycles.
	Cooldown time.Duration
}

// DefaultTimings returns 3s between trades, 5s between batches and 10s between cycles.
func DefaultTimings() Timings {
	return Timings{
		InterTrade: 3 * time.Second,
		InterBatch: 5 * time.Second,
		Cooldown:   10 * time.Second,
	}
}

// Counters tracks completed cycles.
type Counters struct {
	// Run cycles completed since the last Start.
	Run int `json:"run"`
	// Lifetime cycles completed since the process started.
	Lifetime int `json:"lifetime"`
}

// Robot orchestrates the trade cycle. All methods are safe for concurrent use.
type Robot struct {
	broker   Broker
	journal  Journal
	notifier Notifier
	logger   *zap.Logger
	timings  Timings
	now      func() time.Time

	mu           sync.Mutex
	cfg          domain.RobotConfiguration
	state        State
	running      bool
	stop         chan struct{}
	stopOnce     *sync.Once
	done         chan struct{}
	trades       []domain.TradeRecord
	counters     Counters
	balance      domain.Balance
	balanceKnown bool
	assets       []domain.Asset
	lastErr      error
	onBalance    func(domain.Balance)
}

// New creates an idle robot with the default configuration.
func New(broker Broker, journal Journal, notifier Notifier, logger *zap.Logger, timings Timings) *Robot {
	if logger == nil {
		logger = zap.NewNop()
	}

	done := make(chan struct{})
	close(done)

	return &Robot{
		broker:   broker,
		journal:  journal,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "robot")),
		timings:  timings,
		now:      time.Now,
		cfg:      domain.DefaultRobotConfiguration(),
		state:    StateIdle,
		done:     done,
	}
}

// OnBalance registers fn to be called with every refreshed balance.
func (r *Robot) OnBalance(fn func(domain.Balance)) {
	r.mu.Lock()
	r.onBalance = fn
	r.mu.Unlock()
}

// Restore loads the persisted trade history.
func (r *Robot) Restore() error {
	if r.journal == nil {
		return nil
	}

	history, err := r.journal.Load()
	if err != nil {
		return errors.Wrap(err, "load trade history")
	}

	r.mu.Lock()
	r.trades = history
	r.mu.Unlock()

	r.logger.Info("trade history restored", zap.Int("trades", len(history)))

	return nil
}

// Start validates cfg and launches the cycle loop. The known balance must cover
// one full cycle; no broker call is made before that check. ctx bounds the whole run.
func (r *Robot) Start(ctx context.Context, cfg domain.RobotConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	need := cfg.RequiredBalance()
	have := decimal.Zero
	if r.balanceKnown {
		have = r.balance.Amount
	}
	if have.LessThan(need) {
		return &domain.InsufficientBalance{Have: have, Need: need}
	}

	cfg.Active = true
	r.cfg = cfg
	r.state = StateRunning
	r.running = true
	r.lastErr = nil
	r.counters.Run = 0
	r.stop = make(chan struct{})
	r.stopOnce = &sync.Once{}
	r.done = make(chan struct{})

	r.logger.Info("robot started",
		zap.Int("calls", cfg.CallCount), zap.Int("puts", cfg.PutCount),
		zap.String("stake", cfg.Stake.String()), zap.String("asset", cfg.Asset),
		zap.Int("expiry_seconds", cfg.ExpirySeconds))

	go r.run(ctx, r.stop, r.done)

	return nil
}

// Stop clears Active. The in-flight cycle completes, no further cycle begins.
// Calling Stop more than once has no additional effect.
func (r *Robot) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.Active = false
	if r.stopOnce != nil {
		r.stopOnce.Do(func() { close(r.stop) })
	}
}

// Wait blocks until the current run has exited.
func (r *Robot) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	<-done
}

// Configure replaces the configuration; Active is preserved.
// A running loop picks the change up at its next cycle.
func (r *Robot) Configure(cfg domain.RobotConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg.Active = r.cfg.Active
	r.cfg = cfg

	return nil
}

func (r *Robot) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if p := recover(); p != nil {
			r.fail(errors.Errorf("cycle panicked: %v", p))
		}
		r.mu.Lock()
		r.cfg.Active = false
		r.state = StateIdle
		r.running = false
		r.mu.Unlock()
	}()

	for {
		cfg, ok := r.snapshot()
		if !ok {
			r.logger.Info("robot stopped")
			return
		}

		if err := r.cycle(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("robot run cancelled", zap.Error(ctx.Err()))
				return
			}
			r.fail(err)
			return
		}

		if _, ok := r.snapshot(); !ok {
			r.logger.Info("robot stopped")
			return
		}

		timer := time.NewTimer(r.timings.Cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("robot run cancelled", zap.Error(ctx.Err()))
			return
		case <-stop:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (r *Robot) snapshot() (domain.RobotConfiguration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.cfg.Active
}

// cycle places CallCount CALLs, pauses InterBatch even when a batch is empty, places
// PutCount PUTs, then commits the records.
func (r *Robot) cycle(ctx context.Context, cfg domain.RobotConfiguration) error {
	records := make([]domain.TradeRecord, 0, cfg.CallCount+cfg.PutCount)

	batch := func(direction domain.Direction, count int) error {
		for i := 0; i < count; i++ {
			if i > 0 {
				if err := sleep(ctx, r.timings.InterTrade); err != nil {
					return err
				}
			}
			rec, err := r.place(ctx, cfg.Request(direction))
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	}

	err := batch(domain.DirectionCall, cfg.CallCount)
	if err == nil {
		err = sleep(ctx, r.timings.InterBatch)
	}
	if err == nil {
		err = batch(domain.DirectionPut, cfg.PutCount)
	}

	if commitErr := r.commit(records, err == nil); commitErr != nil {
		return commitErr
	}
	if err != nil {
		return err
	}

	balance := r.RefreshBalance(ctx)

	counters := r.Counters()
	r.logger.Info("cycle completed",
		zap.Int("cycle", counters.Run), zap.Int("trades", len(records)),
		zap.String("balance", balance.Amount.String()))
	if r.notifier != nil {
		r.notifier.Sendf("cycle #%d completed: %s on %s, balance %s %s",
			counters.Run, summarize(records), cfg.Asset, balance.Amount.StringFixed(2), balance.Currency)
	}

	return nil
}

// place converts typed broker failures into LOSS records; anything else aborts the cycle.
func (r *Robot) place(ctx context.Context, req domain.TradeRequest) (domain.TradeRecord, error) {
	placedAt := r.now()

	ack, err := r.broker.PlaceTrade(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TradeRecord{}, ctxErr
		}
		if !domain.IsBrokerFailure(err) {
			return domain.TradeRecord{}, errors.Wrapf(err, "place %s", req.Direction)
		}
		r.logger.Warn("trade failed", zap.Stringer("trade", req), zap.Error(err))
		return domain.NewFailedTradeRecord(failedTradeID(placedAt, req), req, placedAt, err), nil
	}

	rec := domain.NewTradeRecord(req, ack, placedAt)
	r.logger.Info("trade placed",
		zap.String("id", rec.ID), zap.Stringer("trade", req), zap.Bool("simulated", rec.Simulated))

	return rec, nil
}

// commit prepends records to the log keeping placement order, then journals them.
func (r *Robot) commit(records []domain.TradeRecord, completed bool) error {
	if len(records) == 0 && !completed {
		return nil
	}

	r.mu.Lock()
	trades := make([]domain.TradeRecord, 0, len(records)+len(r.trades))
	trades = append(trades, records...)
	r.trades = append(trades, r.trades...)
	if completed {
		r.counters.Run++
		r.counters.Lifetime++
	}
	r.mu.Unlock()

	if r.journal == nil {
		return nil
	}
	if err := r.journal.AppendCycle(records); err != nil {
		return errors.Wrap(err, "journal trade cycle")
	}
	return nil
}

func (r *Robot) fail(err error) {
	r.mu.Lock()
	r.cfg.Active = false
	r.lastErr = err
	r.mu.Unlock()

	r.logger.Error("robot stopped on error", zap.Error(err))
	if r.notifier != nil {
		r.notifier.Sendf("robot stopped: %v", err)
	}
}

// RefreshBalance fetches the balance and caches it.
func (r *Robot) RefreshBalance(ctx context.Context) domain.Balance {
	balance := r.broker.FetchBalance(ctx)

	r.mu.Lock()
	r.balance = balance
	r.balanceKnown = true
	observe := r.onBalance
	r.mu.Unlock()

	if observe != nil {
		observe(balance)
	}
	return balance
}

// Balance returns the cached balance and whether one was ever fetched.
func (r *Robot) Balance() (domain.Balance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance, r.balanceKnown
}

// Assets returns the cached instrument list, fetching it on first use.
func (r *Robot) Assets(ctx context.Context) []domain.Asset {
	r.mu.Lock()
	cached := r.assets
	r.mu.Unlock()
	if len(cached) > 0 {
		return append([]domain.Asset(nil), cached...)
	}

	assets := r.broker.FetchAssets(ctx)

	r.mu.Lock()
	r.assets = assets
	r.mu.Unlock()

	return append([]domain.Asset(nil), assets...)
}

// Prime loads the balance and the asset list concurrently.
func (r *Robot) Prime(ctx context.Context) (domain.Balance, []domain.Asset, error) {
	var (
		balance domain.Balance
		assets  []domain.Asset
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balance = r.RefreshBalance(gctx)
		return nil
	})
	g.Go(func() error {
		fetched := r.broker.FetchAssets(gctx)
		r.mu.Lock()
		r.assets = fetched
		r.mu.Unlock()
		assets = append([]domain.Asset(nil), fetched...)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Balance{}, nil, err
	}

	return balance, assets, nil
}

// Trades returns up to limit records, newest first. limit <= 0 returns all.
func (r *Robot) Trades(limit int) []domain.TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.TradeRecord(nil), r.trades[:n]...)
}

// ResolveTrade asks the broker for the outcome of trade id and records it.
func (r *Robot) ResolveTrade(ctx context.Context, id string) (domain.TradeRecord, error) {
	r.mu.Lock()
	idx := r.indexOf(id)
	r.mu.Unlock()
	if idx < 0 {
		return domain.TradeRecord{}, ErrTradeNotFound
	}

	result, err := r.broker.FetchTradeResult(ctx, id)
	if err != nil {
		return domain.TradeRecord{}, errors.Wrapf(err, "fetch result of %s", id)
	}

	r.mu.Lock()
	idx = r.indexOf(id)
	if idx < 0 {
		r.mu.Unlock()
		return domain.TradeRecord{}, ErrTradeNotFound
	}
	rec := &r.trades[idx]
	rec.Outcome = result.Outcome
	rec.Simulated = rec.Simulated || result.Simulated
	if result.Message != "" {
		rec.Note = result.Message
	}
	updated := *rec
	r.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.UpdateOutcome(updated.ID, updated.Outcome, updated.Simulated, updated.Note); err != nil {
			return updated, errors.Wrap(err, "journal trade outcome")
		}
	}

	return updated, nil
}

func (r *Robot) indexOf(id string) int {
	for i := range r.trades {
		if r.trades[i].ID == id {
			return i
		}
	}
	return -1
}

// Counters returns the completed cycle counters.
func (r *Robot) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Config returns the current configuration.
func (r *Robot) Config() domain.RobotConfiguration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// State returns IDLE or RUNNING.
func (r *Robot) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the error that last forced the robot to IDLE, if any.
func (r *Robot) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Status returns a one-line summary for chat commands.
func (r *Robot) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := fmt.Sprintf("%s, cycles %d (lifetime %d), %d trades logged",
		r.state, r.counters.Run, r.counters.Lifetime, len(r.trades))
	if r.balanceKnown {
		s += fmt.Sprintf(", balance %s %s", r.balance.Amount.StringFixed(2), r.balance.Currency)
	}
	if r.lastErr != nil {
		s += ", last error: " + r.lastErr.Error()
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
