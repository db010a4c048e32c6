package persistence

import "binance-grid-trader-go/internal/models"

// StateRepository defines the interface for strategy state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the full strategy state for its symbol.
	SaveState(state *models.StrategyState) error

	// LoadState loads the state stored for the given symbol.
	// If no state is found, it returns (nil, nil).
	LoadState(symbol string) (*models.StrategyState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
