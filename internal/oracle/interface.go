package oracle

import (
	"context"
	"errors"
)

// ErrOracle marks a judgment service failure (timeout, transport or non-success response)
var ErrOracle = errors.New("oracle error")

// Params tunes a single judgment query
type Params struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Oracle defines the contract for the judgment service
type Oracle interface {
	Query(ctx context.Context, prompt string, params Params) (string, error)
}
