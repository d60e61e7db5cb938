//go:generate mockgen -source=escrow.go -destination=mocks/mocks.go -package=mocks Gateway

// Package escrow moves collateral between holders and the ledger's vault.
package escrow

import (
	"context"
	"sync"

	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Gateway is the external asset the ledger holds collateral in. Deposit pulls
// amount from a holder into the vault; Disburse pays amount out of the vault.
// Implementations may call back into the ledger while disbursing.
type Gateway interface {
	Deposit(ctx context.Context, from domain.CallerID, amount uint64) error
	Disburse(ctx context.Context, to domain.CallerID, amount uint64) error
}

// Collateral is an in-process collateral token with a vault account. It
// behaves like a second ledger's transferFrom/transfer pair.
type Collateral struct {
	mu       sync.Mutex
	vault    domain.CallerID
	balances map[domain.CallerID]uint64
}

func NewCollateral(vault domain.CallerID) *Collateral {
	return &Collateral{vault: vault, balances: make(map[domain.CallerID]uint64)}
}

func (c *Collateral) Vault() domain.CallerID { return c.vault }

// Credit mints collateral to account. Used to fund holders and the vault's
// interest reserve.
func (c *Collateral) Credit(account domain.CallerID, value uint64) error {
	if account.IsNull() {
		return dErrors.New(dErrors.CodeInvalidParameter, "collateral account must not be null")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := amount.Add(c.balances[account], value)
	if err != nil {
		return err
	}
	c.balances[account] = next
	return nil
}

func (c *Collateral) BalanceOf(account domain.CallerID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account]
}

func (c *Collateral) Deposit(ctx context.Context, from domain.CallerID, value uint64) error {
	return c.transfer(ctx, from, c.vault, value)
}

func (c *Collateral) Disburse(ctx context.Context, to domain.CallerID, value uint64) error {
	return c.transfer(ctx, c.vault, to, value)
}

func (c *Collateral) transfer(ctx context.Context, from, to domain.CallerID, value uint64) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEscrowFailure, "transfer cancelled")
	}
	if from.IsNull() || to.IsNull() {
		return dErrors.New(dErrors.CodeEscrowFailure, "transfer to or from the null account")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[from] < value {
		return dErrors.Newf(dErrors.CodeEscrowFailure, "collateral balance of %s is %d, need %d", from, c.balances[from], value)
	}
	credited, err := amount.Add(c.balances[to], value)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeEscrowFailure, "collateral balance overflow")
	}
	c.balances[from] -= value
	c.balances[to] = credited
	return nil
}
