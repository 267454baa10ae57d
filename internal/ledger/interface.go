package ledger

import (
	"context"
	"errors"

	"github.com/nuance-network/nuance-validator/internal/models"
)

// ErrLedger marks a failed read from or write to the chain gateway
var ErrLedger = errors.New("ledger error")

// Ledger is the chain of record for node identities and weights
type Ledger interface {
	// GetCommitments returns every commit claim published on the subnet
	GetCommitments(ctx context.Context) ([]models.Commitment, error)

	// SetWeights submits a complete weight vector keyed by node hotkey.
	// The vector is applied as a whole or not at all.
	SetWeights(ctx context.Context, weights map[string]float64) error
}
