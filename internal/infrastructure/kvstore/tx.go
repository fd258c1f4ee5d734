package kvstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

const sep = "\x00"

var (
	guardianPrefix        = []byte("guardian" + sep)
	trustPrefix           = []byte("trust" + sep)
	configPrefix          = []byte("config" + sep)
	recoveryPrefix        = []byte("recovery" + sep)
	accountRecoveryPrefix = []byte("account-recovery" + sep)
)

func key(prefix []byte, parts ...string) []byte {
	k := append([]byte{}, prefix...)
	for i, p := range parts {
		if i > 0 {
			k = append(k, sep...)
		}
		k = append(k, p...)
	}
	return k
}

// tx adapts a badger transaction to protocol.Tx
type tx struct {
	txn *badger.Txn
}

func (t *tx) get(k []byte, notFound *errors.AppError, dst interface{}) error {
	item, err := t.txn.Get(k)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("badger get: %w", err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, dst); err != nil {
			return fmt.Errorf("decode %q: %w", k, err)
		}
		return nil
	})
}

func (t *tx) put(k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", k, err)
	}
	if err := t.txn.Set(k, data); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (t *tx) GetGuardian(_ context.Context, addr values.Address) (*guardian.Guardian, error) {
	var g guardian.Guardian
	if err := t.get(key(guardianPrefix, addr.String()), errors.ErrUnknownGuardian, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *tx) SaveGuardian(_ context.Context, g *guardian.Guardian) error {
	return t.put(key(guardianPrefix, g.Address.String()), g)
}

func (t *tx) ScanGuardians(_ context.Context, fn func(*guardian.Guardian) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = guardianPrefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var g guardian.Guardian
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &g)
		})
		if err != nil {
			return fmt.Errorf("decode guardian: %w", err)
		}
		if !fn(&g) {
			return nil
		}
	}
	return nil
}

func (t *tx) GetTrust(_ context.Context, truster, trustee values.Address) (*trust.Relation, error) {
	var r trust.Relation
	if err := t.get(key(trustPrefix, truster.String(), trustee.String()), errors.ErrTrustNotFound, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) SaveTrust(_ context.Context, r *trust.Relation) error {
	return t.put(key(trustPrefix, r.Truster.String(), r.Trustee.String()), r)
}

func (t *tx) GetAccountConfig(_ context.Context, account values.Address) (*recovery.AccountConfig, error) {
	var c recovery.AccountConfig
	if err := t.get(key(configPrefix, account.String()), errors.ErrConfigNotFound, &c); err != nil {
		return nil, err
	}
	if c.TrustedGuardians == nil {
		c.TrustedGuardians = values.NewAddressSet()
	}
	return &c, nil
}

func (t *tx) SaveAccountConfig(_ context.Context, c *recovery.AccountConfig) error {
	return t.put(key(configPrefix, c.AccountAddress.String()), c)
}

func (t *tx) GetRecovery(_ context.Context, id string) (*recovery.Request, error) {
	var r recovery.Request
	if err := t.get(key(recoveryPrefix, id), errors.ErrRecoveryNotFound, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) SaveRecovery(_ context.Context, r *recovery.Request) error {
	if err := t.put(key(recoveryPrefix, r.ID), r); err != nil {
		return err
	}
	if err := t.txn.Set(key(accountRecoveryPrefix, r.AccountAddress.String(), r.ID), nil); err != nil {
		return fmt.Errorf("badger set index: %w", err)
	}
	return nil
}

func (t *tx) ScanAccountRecoveries(ctx context.Context, account values.Address, fn func(*recovery.Request) bool) error {
	prefix := append(key(accountRecoveryPrefix, account.String()), sep...)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	it.Close()

	for _, id := range ids {
		r, err := t.GetRecovery(ctx, id)
		if err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return nil
}
