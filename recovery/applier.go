package recovery

import (
	"ultraGraph/log_record"
	"ultraGraph/store"
)

// Applier performs the store mutation of an entry whose transaction has been
// verified at Commit.
type Applier interface {
	Apply(entry log_record.LogEntry) error
}

type ApplierFunc func(entry log_record.LogEntry) error

func (f ApplierFunc) Apply(entry log_record.LogEntry) error {
	return f(entry)
}

// StoreApplier applies Command entries to the record stores and ignores the
// framing entries.
type StoreApplier struct {
	stores *store.Stores
}

func NewStoreApplier(stores *store.Stores) *StoreApplier {
	return &StoreApplier{stores: stores}
}

func (a *StoreApplier) Apply(entry log_record.LogEntry) error {
	ce, ok := entry.(*log_record.CommandEntry)
	if !ok {
		return nil
	}
	return ce.Command.Apply(a.stores)
}
