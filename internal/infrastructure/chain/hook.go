package chain

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

var _ protocol.AccountHook = (*AccountHook)(nil)

// AccountHook calls POST {base}/{account}/recover on the target account
type AccountHook struct {
	c *client
}

func NewAccountHook(cfg Config, logger *zap.Logger) (*AccountHook, error) {
	c, err := newClient(cfg, logger, "account_hook")
	if err != nil {
		return nil, err
	}
	return &AccountHook{c: c}, nil
}

type applyOwnerRequest struct {
	NewOwner   values.Address `json:"new_owner"`
	RecoveryID string         `json:"recovery_id"`
}

type applyOwnerResponse struct {
	Applied bool `json:"applied"`
}

func (h *AccountHook) ApplyNewOwner(ctx context.Context, account, newOwner values.Address, recoveryID string) (bool, error) {
	var resp applyOwnerResponse
	path := "/" + url.PathEscape(account.String()) + "/recover"
	err := h.c.post(ctx, path, applyOwnerRequest{NewOwner: newOwner, RecoveryID: recoveryID}, &resp)
	var rej *rejection
	if errors.As(err, &rej) {
		h.c.logger.Warn("account refused new owner",
			zap.String("account", account.String()),
			zap.String("recovery_id", recoveryID),
			zap.Int("status", rej.status))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Applied, nil
}
