// Package payment talks to the external payment gateway.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownReference is returned when the gateway has no record of a
// tracking reference.
var ErrUnknownReference = errors.New("payment: unknown provider reference")

// State is the gateway's answer reduced to what reconciliation acts on.
type State string

const (
	StateCompleted State = "completed"
	StatePending   State = "pending"
	StateFailed    State = "failed"
)

type SessionRequest struct {
	MerchantReference string
	Amount            decimal.Decimal
	Currency          string
	Description       string
	BuyerContact      string
	BuyerAddress      string
}

type Session struct {
	ProviderReference string
	RedirectURL       string
}

type SessionStatus struct {
	State             State
	Description       string
	MerchantReference string
	Amount            decimal.Decimal
	Currency          string
}

// Provider creates hosted checkout sessions and reports their outcome.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSessionStatus(ctx context.Context, providerReference string) (*SessionStatus, error)
}

// MapState folds a gateway status description into a State. Anything the
// gateway has not settled, including unrecognised text, counts as pending.
func MapState(description string) State {
	switch strings.ToLower(strings.TrimSpace(description)) {
	case "completed", "payment received":
		return StateCompleted
	case "failed", "cancelled", "canceled", "invalid", "reversed":
		return StateFailed
	default:
		return StatePending
	}
}
