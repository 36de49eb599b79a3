package watcher

// Package watcher runs one polling loop per watched address, deduplicates
// signatures through the ledger and pushes new ones to a Notifier.
// RPC failures rotate the shared endpoint pool and are retried forever.

import (
	"context"
	"fmt"

	"kol-monitor/internal/features/rpc_pool"
)

// SignatureFetcher returns the most recent confirmed signatures for address
// as reported by endpoint, in the order the node returned them.
type SignatureFetcher interface {
	FetchSignatures(ctx context.Context, endpoint rpc_pool.Endpoint, address string) ([]string, error)
}

// Endpoints is the part of the pool a monitor needs.
type Endpoints interface {
	Current() rpc_pool.Endpoint
	Rotate() rpc_pool.Endpoint
}

// Ledger is the dedup store shared by every monitor.
type Ledger interface {
	MarkIfNew(address, signature string) bool
}

// NotificationMessage is one outbound text for the sink.
type NotificationMessage struct {
	Destination string
	Text        string
}

// Notifier delivers notifications. Delivery is best effort; the monitor logs
// a failed send and moves on.
type Notifier interface {
	Send(ctx context.Context, msg NotificationMessage) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg NotificationMessage) error

func (f NotifierFunc) Send(ctx context.Context, msg NotificationMessage) error { return f(ctx, msg) }

// Formatter renders the notification body for a new signature.
type Formatter func(address, signature string) string

// DefaultFormatter is the plain text notification body.
func DefaultFormatter(address, signature string) string {
	return fmt.Sprintf("🔔 New transaction detected!\nAddress: %s\nSignature: %s", address, signature)
}

// Recorder receives counters from monitors and the supervisor.
type Recorder interface {
	RPCError(endpoint string)
	Rotated(endpoint string)
	NewSignature(address string)
	Notified(address string, err error)
	MonitorsActive(n int)
	Probed(reachable bool)
}

type nopRecorder struct{}

func (nopRecorder) RPCError(string) {}
func (nopRecorder) Rotated(string) {}
func (nopRecorder) NewSignature(string) {}
func (nopRecorder) Notified(string, error) {}
func (nopRecorder) MonitorsActive(int) {}
func (nopRecorder) Probed(bool) {}
