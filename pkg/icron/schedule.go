package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes when a schedule fires around a reference time.
type TriggerInfo struct {
	Next       time.Time
	Following  time.Time
	Expression string

	TimeUntilNext time.Duration
	// Period is the gap between the next two runs.
	Period time.Duration
}

// GetTriggerInfo parses a standard or descriptor ("@every 30s") expression.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	next := schedule.Next(refTime)
	if next.IsZero() {
		return nil, fmt.Errorf("cron expression %q never fires", cronExpr)
	}
	following := schedule.Next(next)

	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		Following:     following,
		TimeUntilNext: next.Sub(refTime),
		Period:        following.Sub(next),
	}, nil
}
