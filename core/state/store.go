package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"nftlend/native/bank"
	"nftlend/native/lending"
	"nftlend/storage"
)

var errTxClosed = errors.New("state: transaction already closed")

// Store hands out write-buffering transactions over a storage.Database.
type Store struct {
	db    storage.Database
	hooks *bank.Hooks
}

// NewStore wraps db. The store does not take ownership of db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// SetHooks installs receiver callbacks on every ledger bound to a
// transaction opened afterwards.
func (s *Store) SetHooks(hooks *bank.Hooks) { s.hooks = hooks }

// Begin satisfies lending.Store.
func (s *Store) Begin() lending.StateTx { return s.BeginTx() }

// BeginTx opens a transaction. Reads observe committed state plus the
// transaction's own writes.
func (s *Store) BeginTx() *Tx {
	return &Tx{store: s, writes: make(map[string]pendingWrite)}
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx buffers writes until Commit. It is not safe for concurrent use.
type Tx struct {
	store  *Store
	writes map[string]pendingWrite
	order  []string
	closed bool
}

// Ledger returns the bank ledger bound to this transaction.
func (tx *Tx) Ledger() *bank.Ledger {
	return bank.NewLedger(tx, tx.store.hooks)
}

// Rails satisfies lending.StateTx.
func (tx *Tx) Rails() lending.Rails { return tx.Ledger() }

// Commit writes every buffered change in one atomic batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if len(tx.order) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for _, key := range tx.order {
		w := tx.writes[key]
		if w.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), w.value)
	}
	tx.writes = nil
	tx.order = nil
	return tx.store.db.Write(batch)
}

// Discard drops every buffered change. Discarding a committed transaction is
// a no-op.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
	tx.order = nil
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, errTxClosed
	}
	if w, ok := tx.writes[string(key)]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	value, err := tx.store.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) set(key []byte, w pendingWrite) error {
	if tx.closed {
		return errTxClosed
	}
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = w
	return nil
}

// putRLP stores value under key using RLP encoding.
func (tx *Tx) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.set(key, pendingWrite{value: encoded})
}

// getRLP decodes the value under key into out. The boolean reports whether
// the key existed.
func (tx *Tx) getRLP(key []byte, out interface{}) (bool, error) {
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %x: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) delete(key []byte) error {
	return tx.set(key, pendingWrite{deleted: true})
}
