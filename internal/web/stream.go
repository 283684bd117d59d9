package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/pkg/response"
)

const streamHeartbeat = 20 * time.Second

// BalanceHistory reads stored balance snapshots.
type BalanceHistory interface {
	SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error)
}

// BalanceFeed delivers live balance snapshots.
type BalanceFeed interface {
	Subscribe() chan domain.BalanceSnapshotRecord
	Unsubscribe(ch chan domain.BalanceSnapshotRecord)
}

// Option configures optional server features.
type Option func(*Server)

// WithBalanceHistory enables the balance history and stream endpoints.
func WithBalanceHistory(history BalanceHistory, feed BalanceFeed) Option {
	return func(s *Server) {
		s.history = history
		s.feed = feed
	}
}

func (s *Server) handleBalanceHistory(c *gin.Context) {
	after, err := parseIndex(c.Query("after"))
	if err != nil {
		response.BadRequest(c, "after must be a non-negative integer")
		return
	}

	records, err := s.history.SnapshotsAfter(after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if records == nil {
		records = []domain.BalanceSnapshotRecord{}
	}
	response.Success(c, records)
}

// handleBalanceStream replays stored snapshots after Last-Event-ID and then follows the live feed.
func (s *Server) handleBalanceStream(c *gin.Context) {
	lastIndex := parseLastEventID(c.GetHeader("Last-Event-ID"), c.Query("last_event_id"))

	sub := s.feed.Subscribe()
	defer s.feed.Unsubscribe(sub)

	backlog, err := s.history.SnapshotsAfter(lastIndex)
	if err != nil {
		s.writeError(c, err)
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(record domain.BalanceSnapshotRecord) bool {
		payload, err := json.Marshal(record.Snapshot)
		if err != nil {
			s.logger.Error("failed to encode balance snapshot", zap.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: balance\ndata: %s\n\n", record.Index, payload); err != nil {
			return false
		}
		w.Flush()
		lastIndex = record.Index
		return true
	}

	for _, record := range backlog {
		if !send(record) {
			return
		}
	}
	if lastIndex == 0 {
		fmt.Fprint(w, "event: no_data\ndata: {}\n\n")
		w.Flush()
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		case record, ok := <-sub:
			if !ok {
				return
			}
			if record.Index <= lastIndex {
				continue
			}
			if !send(record) {
				return
			}
		}
	}
}

// parseLastEventID prefers the header; the query parameter allows manual resumes.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	id, err := parseIndex(idStr)
	if err != nil {
		return 0
	}
	return id
}

func parseIndex(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
