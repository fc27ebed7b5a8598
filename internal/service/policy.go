// Package service implements circulation: the lend and return workflows,
// catalog and borrower management, ledger queries and reconciliation.
package service

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/listenupapp/circulation-server/internal/circulation"
	"github.com/listenupapp/circulation-server/internal/config"
)

// User-facing messages. API clients match on these strings.
const (
	MsgBookNotFound        = "Book not found"
	MsgBookNotAvailable    = "Book is not available for lending"
	MsgBorrowerNotFound    = "Borrower not found"
	MsgBorrowerNotActive   = "Borrower is not active"
	MsgTransactionRequired = "Transaction ID is required"
	MsgActiveLendNotFound  = "Active lending transaction not found"
	MsgTransactionNotFound = "Transaction not found"
	MsgOverrideForbidden   = "Fine override requires authorization"
	MsgDueDateInPast       = "Due date cannot be in the past"
)

// waiverKeyCost is the bcrypt cost for waiver key hashes.
const waiverKeyCost = 12

// Policy holds the lending rules every service shares.
type Policy struct {
	FineRatePerDay float64
	Location       *time.Location
	AllowPastDue   bool
	// WaiverKeyHash is a bcrypt hash of the key that authorizes fine
	// overrides. When set, the assessed fine is charged by default and a
	// different amount needs the key. Empty leaves the charged amount to
	// the caller, 0 when omitted.
	WaiverKeyHash string
	// Now defaults to time.Now.
	Now func() time.Time
}

// PolicyFromConfig builds a Policy from loaded configuration.
func PolicyFromConfig(cfg config.CirculationConfig) Policy {
	return Policy{
		FineRatePerDay: cfg.FineRatePerDay,
		Location:       cfg.Location,
		AllowPastDue:   cfg.AllowPastDue,
		WaiverKeyHash:  cfg.WaiverKeyHash,
	}
}

// DefaultPolicy is the stock fee schedule in local time.
func DefaultPolicy() Policy {
	return Policy{FineRatePerDay: circulation.DefaultRatePerDay, Location: time.Local}
}

// now returns the current time in the circulation time zone. Date-only
// comparisons (overdue, past due) are made in that zone.
func (p Policy) now() time.Time {
	clock := p.Now
	if clock == nil {
		clock = time.Now
	}
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	return clock().In(loc)
}

// enforcesFines reports whether the server's assessment is binding.
func (p Policy) enforcesFines() bool {
	return p.WaiverKeyHash != ""
}

// authorizesOverride reports whether key unlocks fine overrides.
func (p Policy) authorizesOverride(key string) bool {
	if !p.enforcesFines() || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.WaiverKeyHash), []byte(key)) == nil
}

// HashWaiverKey returns the bcrypt hash to configure as WAIVER_KEY_HASH.
func HashWaiverKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), waiverKeyCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
