package service

import (
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/model"
)

// BalancePolicy translates a record's byte footprint into the minimum
// balance its account must hold
type BalancePolicy struct {
	pricePerByte  amount.Amount
	fixedOverhead uint32
	maxIDLen      uint32
}

// NewBalancePolicy creates a policy. It fails when the minimum for the
// longest permitted identifier does not fit in an Amount, which keeps
// RequiredMinimum infallible.
func NewBalancePolicy(pricePerByte amount.Amount, fixedOverhead, maxIDLen uint32) (*BalancePolicy, error) {
	bytes := uint64(fixedOverhead) + uint64(maxIDLen)
	if _, ok := pricePerByte.CheckedMulUint64(bytes); !ok {
		return nil, fmt.Errorf("price per byte %s overflows for %d bytes", pricePerByte, bytes)
	}

	return &BalancePolicy{
		pricePerByte:  pricePerByte,
		fixedOverhead: fixedOverhead,
		maxIDLen:      maxIDLen,
	}, nil
}

// PricePerByte returns the configured price
func (p *BalancePolicy) PricePerByte() amount.Amount {
	return p.pricePerByte
}

// MaxAccountIDLen returns the identifier length used for the global bound
func (p *BalancePolicy) MaxAccountIDLen() uint32 {
	return p.maxIDLen
}

// RequiredMinimum returns pricePerByte * (fixedOverhead + idLen). A nil
// idLen uses the maximum identifier length.
func (p *BalancePolicy) RequiredMinimum(idLen *uint32) amount.Amount {
	n := p.maxIDLen
	if idLen != nil && *idLen < p.maxIDLen {
		n = *idLen
	}

	minimum, _ := p.pricePerByte.CheckedMulUint64(uint64(p.fixedOverhead) + uint64(n))
	return minimum
}

// RequiredMinimumFor returns the minimum balance of the given identifier
func (p *BalancePolicy) RequiredMinimumFor(accountID string) amount.Amount {
	n := uint32(len(accountID))
	return p.RequiredMinimum(&n)
}

// AvailableBalance returns the withdrawable surplus above the minimum
func (p *BalancePolicy) AvailableBalance(acct *model.Account) (amount.Amount, error) {
	minimum := p.RequiredMinimumFor(acct.ID)
	available, ok := acct.PrepaidBalance.CheckedSub(minimum)
	if !ok {
		return amount.Zero(), errors.InvariantBroken("prepaid balance is below the required minimum").
			WithDetail("account_id", acct.ID).
			WithDetail("balance", acct.PrepaidBalance.String()).
			WithDetail("minimum", minimum.String())
	}
	return available, nil
}

// StorageBalance returns the {total, available} view of an account
func (p *BalancePolicy) StorageBalance(acct *model.Account) (*model.StorageBalance, error) {
	available, err := p.AvailableBalance(acct)
	if err != nil {
		return nil, err
	}
	return &model.StorageBalance{
		Total:     acct.PrepaidBalance,
		Available: available,
	}, nil
}

// Bounds returns the global balance bounds
func (p *BalancePolicy) Bounds() model.StorageBalanceBounds {
	return model.StorageBalanceBounds{
		Min: p.RequiredMinimum(nil),
		Max: nil,
	}
}
