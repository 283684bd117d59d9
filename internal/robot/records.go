package robot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vadiminshakov/investbot/internal/domain"
)

// failedTradeID builds the local id of a placement that never got a broker id.
func failedTradeID(at time.Time, req domain.TradeRequest) string {
	return fmt.Sprintf("failed-%s-%d-%s", strings.ToLower(req.Direction.String()), at.Unix(), uuid.NewString()[:8])
}

// summarize renders e.g. "2 CALL, 3 PUT (1 failed)".
func summarize(records []domain.TradeRecord) string {
	var calls, puts, failed, simulated int
	for _, rec := range records {
		switch rec.Direction {
		case domain.DirectionCall:
			calls++
		case domain.DirectionPut:
			puts++
		}
		if rec.Outcome == domain.OutcomeLoss {
			failed++
		}
		if rec.Simulated {
			simulated++
		}
	}

	s := fmt.Sprintf("%d CALL, %d PUT", calls, puts)
	var extra []string
	if failed > 0 {
		extra = append(extra, fmt.Sprintf("%d failed", failed))
	}
	if simulated > 0 {
		extra = append(extra, fmt.Sprintf("%d simulated", simulated))
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}
