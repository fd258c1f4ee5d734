package chain

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

var _ protocol.TokenLedger = (*Ledger)(nil)

// Ledger moves tokens through the ledger's transfer endpoint
type Ledger struct {
	c *client
}

func NewLedger(cfg Config, logger *zap.Logger) (*Ledger, error) {
	c, err := newClient(cfg, logger, "ledger")
	if err != nil {
		return nil, err
	}
	return &Ledger{c: c}, nil
}

type transferRequest struct {
	Token  string         `json:"token"`
	From   values.Address `json:"from"`
	To     values.Address `json:"to"`
	Amount values.Amount  `json:"amount"`
}

type transferResponse struct {
	OK bool `json:"ok"`
}

// Transfer reports false when the ledger refuses the transfer and an error
// when the ledger could not be reached.
func (l *Ledger) Transfer(ctx context.Context, token string, from, to values.Address, amount values.Amount) (bool, error) {
	var resp transferResponse
	err := l.c.post(ctx, "/transfers", transferRequest{Token: token, From: from, To: to, Amount: amount}, &resp)
	var rej *rejection
	if errors.As(err, &rej) {
		l.c.logger.Info("transfer refused",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Int64("amount", amount.Int64()),
			zap.Int("status", rej.status))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}
