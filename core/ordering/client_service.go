package ordering

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ClientService is the client-facing command & query boundary of spec
// §6.2: Torii/ListTorii accept transactions, Status/StatusStream answer
// lifecycle queries, and Find is named for context but out of scope (spec
// §1, "the stateful command executor").
type ClientService struct {
	commands *CommandService
	opts     StatusStreamOptions
	log      logrus.FieldLogger
}

// NewClientService constructs a ClientService in front of commands.
func NewClientService(commands *CommandService, opts StatusStreamOptions, log logrus.FieldLogger) *ClientService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.InitialTimeout <= 0 {
		opts.InitialTimeout = 2 * time.Second
	}
	if opts.NonFinalTimeout <= 0 {
		opts.NonFinalTimeout = 10 * time.Second
	}
	return &ClientService{commands: commands, opts: opts, log: log}
}

// Torii accepts one transaction (spec §6.2).
func (c *ClientService) Torii(ctx context.Context, tx *Transaction) error {
	return c.ListTorii(ctx, []*Transaction{tx})
}

// ListTorii accepts a batch of transactions. Multiple transactions are
// treated as a single batch for MST/quorum purposes (spec §6.2).
func (c *ClientService) ListTorii(ctx context.Context, txs []*Transaction) error {
	c.commands.HandleTransactionBatch(&Batch{Transactions: txs})
	return nil
}

// Status returns a one-shot status for hash (spec §6.2).
func (c *ClientService) Status(ctx context.Context, hash Hash) Status {
	return c.commands.GetStatus(hash)
}

// StatusStream returns the live status stream for hash, using the client
// service's configured initial/non-final timeouts (spec §6.2, §4.7.2).
func (c *ClientService) StatusStream(ctx context.Context, hash Hash) <-chan Status {
	return c.commands.GetStatusStream(hash, c.opts)
}

// Find answers ad-hoc ledger queries. Deliberately out of scope (spec §1):
// the stateful command executor and world-state view own query semantics.
func (c *ClientService) Find(ctx context.Context, query any) (any, error) {
	return nil, ErrNotImplemented
}
