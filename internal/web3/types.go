package web3

import (
	"context"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
// Transaction submission is not part of this interface: bundles leave the
// system through the sponsoring relay, never through a direct RPC write.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	NativeBalance(ctx context.Context, address string) (string, error)
	PendingNonce(ctx context.Context, address string) (string, error)
	Close()
}
