package persistence

import (
	"encoding/json"
	"errors"

	"binance-grid-trader-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

// stateKey returns the storage key for a symbol's state. States are keyed
// per symbol so one database directory can serve several instances.
func stateKey(symbol string) []byte {
	return []byte("strategy_state:" + symbol)
}

// SaveState atomically saves the strategy state.
// It marshals the state struct into JSON and saves it under the symbol's key.
func (r *badgerRepository) SaveState(state *models.StrategyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Symbol), data)
	})
}

// LoadState loads the state stored for the given symbol.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(symbol string) (*models.StrategyState, error) {
	var state models.StrategyState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(symbol))
		if err != nil {
			// The specific error is returned so it can be checked outside the transaction.
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // The expected "no state found" case.
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
