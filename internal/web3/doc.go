// Package web3 houses blockchain connectivity utilities: RPC clients and
// multi-chain configuration helpers. It gives the conversation layer
// read-only access to network metadata and account balances on supported
// networks such as Ethereum, BSC, and Polygon. Write access is deliberately
// absent here; signed bundles reach the chain through the sponsoring relay.
package web3
