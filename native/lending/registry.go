package lending

import (
	"fmt"

	"nftlend/crypto"
)

// VerifyCollection admits collection to the registry and returns its newly
// allocated id. Ids start at 1 and are never reused.
func (e *Engine) VerifyCollection(call Call, collection crypto.Address) (uint64, error) {
	var id uint64
	err := e.execute(call, false, func(op *opContext) error {
		if err := e.access.privileged(op.call.Caller, CapVerifyCollection); err != nil {
			return err
		}
		if collection.IsZero() {
			return fmt.Errorf("%w: empty collection address", ErrInvalidParams)
		}
		existing, err := op.tx.GetCollectionID(collection)
		if err != nil {
			return fmt.Errorf("load collection %s: %w", collection, err)
		}
		if existing != 0 {
			return fmt.Errorf("%w: collection %s already verified as %d", ErrDuplicatedOperation, collection, existing)
		}
		cfg, err := op.config()
		if err != nil {
			return err
		}
		id = cfg.NextCollectionID
		cfg.NextCollectionID++
		if err := op.tx.PutCollectionID(collection, id); err != nil {
			return fmt.Errorf("store collection %s: %w", collection, err)
		}
		if err := op.saveConfig(); err != nil {
			return err
		}
		op.emit(NewCollectionVerifiedEvent(collection, id))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CollectionID returns the registry id of collection, 0 when unverified.
func (e *Engine) CollectionID(collection crypto.Address) (uint64, error) {
	var id uint64
	err := e.view(func(tx StateTx) error {
		var err error
		id, err = tx.GetCollectionID(collection)
		return err
	})
	return id, err
}
