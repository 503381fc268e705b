package service

import (
	stderrors "errors"

	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
)

// AccountLedger maps account identifiers to accounts within one call's
// store transaction. Accounts are returned as copies; mutations become
// visible only through Insert or Update.
type AccountLedger struct {
	txn hoststore.Txn
}

// NewAccountLedger creates a ledger over txn
func NewAccountLedger(txn hoststore.Txn) *AccountLedger {
	return &AccountLedger{txn: txn}
}

// Get returns the account or an AccountNotFound error
func (l *AccountLedger) Get(accountID string) (*model.Account, error) {
	key := model.AccountKey(accountID)
	value, err := l.txn.Get(key)
	if stderrors.Is(err, hoststore.ErrNotFound) {
		return nil, errors.AccountNotFound(accountID)
	}
	if err != nil {
		return nil, errors.StoreFailed("failed to read account", err).WithDetail("account_id", accountID)
	}

	acct, err := model.DecodeAccount(accountID, value)
	if err != nil {
		return nil, errors.CorruptedRecord(string(key), err)
	}
	return acct, nil
}

// Exists reports whether the account is registered
func (l *AccountLedger) Exists(accountID string) (bool, error) {
	_, err := l.Get(accountID)
	if errors.GetCode(err) == errors.ErrCodeAccountNotFound {
		return false, nil
	}
	return err == nil, err
}

// Insert writes a new account record
func (l *AccountLedger) Insert(acct *model.Account) error {
	return l.put(acct)
}

// Update writes back a modified account record
func (l *AccountLedger) Update(acct *model.Account) error {
	return l.put(acct)
}

func (l *AccountLedger) put(acct *model.Account) error {
	if err := l.txn.Set(model.AccountKey(acct.ID), model.EncodeAccount(acct)); err != nil {
		return errors.StoreFailed("failed to write account", err).WithDetail("account_id", acct.ID)
	}
	return nil
}

// Remove deletes the account and returns its last state
func (l *AccountLedger) Remove(accountID string) (*model.Account, error) {
	acct, err := l.Get(accountID)
	if err != nil {
		return nil, err
	}
	if err := l.txn.Delete(model.AccountKey(accountID)); err != nil {
		return nil, errors.StoreFailed("failed to delete account", err).WithDetail("account_id", accountID)
	}
	return acct, nil
}

// Count returns the number of registered accounts
func (l *AccountLedger) Count() (int, error) {
	n := 0
	err := l.txn.Scan([]byte(model.AccountKeyPrefix), func(key, value []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, errors.StoreFailed("failed to scan accounts", err)
	}
	return n, nil
}
