package metrics

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// Multi fans every call out to each collector in order
type Multi []protocol.MetricsCollector

func (m Multi) RecordOperation(op, outcome string, duration time.Duration) {
	for _, c := range m {
		c.RecordOperation(op, outcome, duration)
	}
}

func (m Multi) RecordConfirmation(weight values.Weight) {
	for _, c := range m {
		c.RecordConfirmation(weight)
	}
}

func (m Multi) RecordRecoveryClosed(status recovery.Status) {
	for _, c := range m {
		c.RecordRecoveryClosed(status)
	}
}

func (m Multi) RecordSlash(amount values.Amount) {
	for _, c := range m {
		c.RecordSlash(amount)
	}
}

func (m Multi) RecordPayoutFailure() {
	for _, c := range m {
		c.RecordPayoutFailure()
	}
}
