// Package engine holds the failure vocabulary shared by every game engine:
// sentinel errors raised inside transactions and their mapping onto the
// uniform result codes.
package engine

import (
	"database/sql"
	"errors"
	"log"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
)

var (
	ErrFrozen      = errors.New("trading is frozen")
	ErrEliminated  = errors.New("counterparty is eliminated")
	ErrWrongStatus = errors.New("wrong status for this transition")
	ErrNotYours    = errors.New("not addressed to this actor")
	ErrSelfTarget  = errors.New("cannot target yourself")
	ErrGateLocked  = errors.New("not yet unlocked")
	ErrTooMany     = errors.New("limit reached")
	ErrDuplicate   = errors.New("already done")
	ErrNoMajority  = errors.New("majority not reached")
	ErrNotMember   = errors.New("not an active member")
	ErrFounderOnly = errors.New("founder only")
)

// Failure translates an operation error into a failed Result. The bool is
// true when the caller should return the result immediately; unexpected
// errors are logged and surfaced as a generic internal failure.
func Failure(err error, logger *log.Logger, op string) (protocol.Result, bool) {
	if err == nil {
		return protocol.Result{}, false
	}
	switch {
	case errors.Is(err, store.ErrInsufficient):
		return protocol.Fail(protocol.ErrNoResource, "insufficient balance"), true
	case errors.Is(err, store.ErrNotFound):
		return protocol.Fail(protocol.ErrNotFound, "not found"), true
	case errors.Is(err, ErrFrozen):
		return protocol.Fail(protocol.ErrFrozen, "trading is frozen"), true
	case errors.Is(err, ErrEliminated):
		return protocol.Fail(protocol.ErrInvalidTarget, "counterparty is eliminated"), true
	case errors.Is(err, ErrWrongStatus):
		return protocol.Fail(protocol.ErrConflict, "wrong status for this transition"), true
	case errors.Is(err, ErrNotYours):
		return protocol.Fail(protocol.ErrNoPermission, "not addressed to this actor"), true
	case errors.Is(err, ErrSelfTarget):
		return protocol.Fail(protocol.ErrNoPermission, "cannot target yourself"), true
	case errors.Is(err, ErrGateLocked):
		return protocol.Fail(protocol.ErrLocked, "not yet unlocked at this game hour"), true
	case errors.Is(err, ErrTooMany):
		return protocol.Fail(protocol.ErrConflict, "limit reached"), true
	case errors.Is(err, ErrDuplicate):
		return protocol.Fail(protocol.ErrConflict, "already done"), true
	case errors.Is(err, ErrNoMajority):
		return protocol.Fail(protocol.ErrNoPermission, "majority not reached"), true
	case errors.Is(err, ErrNotMember):
		return protocol.Fail(protocol.ErrNoPermission, "not an active member"), true
	case errors.Is(err, ErrFounderOnly):
		return protocol.Fail(protocol.ErrNoPermission, "only the founder can do this"), true
	}
	logger.Printf("%s: %v", op, err)
	return protocol.Internal(err), true
}

// MapRowErr converts the driver's no-rows error into the store sentinel.
func MapRowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
