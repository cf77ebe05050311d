package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"
)

// ChainSnapshot is a point-in-time summary of a network, used by the API
// status endpoint.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// EventSubscription pairs a log channel with its underlying subscription so
// the watcher can consume and tear down both through one handle.
type EventSubscription struct {
	logs <-chan types.Log
	sub  gethevent.Subscription
}

// NewEventSubscription wraps a raw go-ethereum subscription.
func NewEventSubscription(logs <-chan types.Log, sub gethevent.Subscription) *EventSubscription {
	return &EventSubscription{logs: logs, sub: sub}
}

// Logs returns the channel delivering matched contract logs.
func (e *EventSubscription) Logs() <-chan types.Log {
	return e.logs
}

// Err exposes the subscription's error channel. A nil receiver yields nil.
func (e *EventSubscription) Err() <-chan error {
	if e == nil || e.sub == nil {
		return nil
	}
	return e.sub.Err()
}

// Close unsubscribes. Safe on a nil receiver.
func (e *EventSubscription) Close() {
	if e == nil || e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
}

// Client is what the provider registry hands out per chain: enough surface
// for status reporting, balance checks and contract log subscriptions.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SubscribeEvents(ctx context.Context, query gethcore.FilterQuery) (*EventSubscription, error)
	Close()
}
