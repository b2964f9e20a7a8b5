// Package registry is the on-ledger attestation registry state machine: a
// deterministic function of (state, trigger, ledger time). It keeps the
// bidirectional address/username mapping, the anti-hijack reassignment delay
// and the accumulated fee balance, and can be replayed against the published
// state vars for audit.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ReassignmentDelay is how long a username stays bound to its current
// address after someone requests moving it to a new one.
const ReassignmentDelay = 3 * 24 * time.Hour

// Bounce errors. A bounced trigger mutates nothing except the retained fee.
var (
	ErrNotAttestor  = errors.New("only the attestor can call this AA")
	ErrDelayOngoing = errors.New("the delay period is still ongoing")
	ErrNotEnough    = errors.New("not enough balance")
)

const delayNotice = "This attestation would overwrite an existing record and can't be activated immediately for security reasons. " +
	"Please repeat your attestation in 3 days to activate the new owner of this github username."

// Trigger is the structured message a unit sends to the contract.
type Trigger struct {
	Address        string
	GithubUsername string
	Withdraw       bool
	Amount         int64 // withdraw amount

	// Paid is the value deposited with the trigger; it accrues to the fee
	// balance whether or not the call succeeds.
	Paid int64
}

// Payment is an external payment emitted by a successful response.
type Payment struct {
	Address string
	Amount  int64
}

type Response struct {
	Message string
	Payment *Payment
}

// Contract holds the registry state. The attestor address is fixed at
// initialization and immutable afterwards.
type Contract struct {
	attestor string
	vars     map[string]string
	balance  int64
}

func New(attestorAddress string) *Contract {
	return &Contract{
		attestor: attestorAddress,
		vars:     make(map[string]string),
	}
}

// NewFromSnapshot rebuilds a contract from previously published state, for
// replay verification.
func NewFromSnapshot(attestorAddress string, vars map[string]string, balance int64) *Contract {
	c := New(attestorAddress)
	for k, v := range vars {
		c.vars[k] = v
	}
	c.balance = balance
	return c
}

func addressKey(address string) string   { return "a2u_" + address }
func usernameKey(username string) string { return "u2a_" + username }
func pendingKey(address, username string) string {
	return "pending_" + address + "_" + username
}

// Var exposes one state variable, using the published key shapes
// (a2u_<address>, u2a_<username>, pending_<address>_<username>).
func (c *Contract) Var(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

func (c *Contract) Balance() int64 {
	return c.balance
}

// Snapshot returns a copy of the state vars.
func (c *Contract) Snapshot() map[string]string {
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Handle executes one trigger. A returned error is a bounce: the response
// carries nothing and no state changed, except that the deposited value is
// retained as a fee.
func (c *Contract) Handle(caller string, t Trigger, now time.Time) (*Response, error) {
	c.balance += t.Paid

	switch {
	case t.Withdraw:
		return c.handleWithdraw(caller, t.Amount)
	case t.Address != "" && t.GithubUsername != "":
		return c.handleAttest(caller, t.Address, t.GithubUsername, now)
	default:
		// Plain deposit; this is how attestation-fee side payments accumulate.
		return &Response{Message: "accepted"}, nil
	}
}

func (c *Contract) handleAttest(caller, address, username string, now time.Time) (*Response, error) {
	if caller != c.attestor {
		return nil, ErrNotAttestor
	}

	bound, isBound := c.vars[usernameKey(username)]
	if !isBound || bound == address {
		// First binding, or a new username for the same address: no contest.
		c.bind(address, username)
		return &Response{Message: fmt.Sprintf("%s => %s", username, address)}, nil
	}

	// The username belongs to a different address: a reassignment.
	pk := pendingKey(address, username)
	stamp, hasPending := c.vars[pk]
	if !hasPending {
		c.vars[pk] = strconv.FormatInt(now.Unix(), 10)
		return &Response{Message: delayNotice}, nil
	}

	requestedAt, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending marker %s: %w", pk, err)
	}
	if now.Sub(time.Unix(requestedAt, 0)) < ReassignmentDelay {
		// A retry inside the window fails and does not reset the clock.
		return nil, ErrDelayOngoing
	}

	// Delay served: release the old binding. The old address keeps any other
	// username it was rebound to in the meantime.
	if c.vars[addressKey(bound)] == username {
		delete(c.vars, addressKey(bound))
	}
	c.bind(address, username)
	return &Response{Message: fmt.Sprintf("%s => %s", username, address)}, nil
}

func (c *Contract) bind(address, username string) {
	c.vars[addressKey(address)] = username
	c.vars[usernameKey(username)] = address
	delete(c.vars, pendingKey(address, username))
}

func (c *Contract) handleWithdraw(caller string, amount int64) (*Response, error) {
	if caller != c.attestor {
		return nil, ErrNotAttestor
	}
	if amount <= 0 || amount > c.balance {
		return nil, ErrNotEnough
	}
	c.balance -= amount
	return &Response{
		Payment: &Payment{Address: caller, Amount: amount},
	}, nil
}
