package stream

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SortOrder defines how results should be ordered when listing streams.
type SortOrder int

const (
	// SortByUpdatedDesc orders streams by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders streams by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how streams are selected when querying the store.
// Participant matches either side of a stream; Sender/Recipient pin one side.
type ListOptions struct {
	Limit       int
	Offset      int
	Statuses    []Status
	Participant *common.Address
	Sender      *common.Address
	Recipient   *common.Address
	UpdatedGTE  int64
	UpdatedLTE  int64
	Order       SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of streams returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching streams before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters streams by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithParticipant filters streams where the address is sender or recipient.
func WithParticipant(addr common.Address) ListOption {
	return func(opts *ListOptions) {
		participant := addr
		opts.Participant = &participant
	}
}

// WithSender filters streams by the sending side.
func WithSender(addr common.Address) ListOption {
	return func(opts *ListOptions) {
		sender := addr
		opts.Sender = &sender
	}
}

// WithRecipient filters streams by the receiving side.
func WithRecipient(addr common.Address) ListOption {
	return func(opts *ListOptions) {
		recipient := addr
		opts.Recipient = &recipient
	}
}

// WithUpdatedSince filters streams settled after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters streams settled before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of streams.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
