package listing

import (
	"errors"
	"fmt"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/payment"
)

// ErrorKind classifies list failures for the UI.
type ErrorKind int

const (
	KindAuth   ErrorKind = iota + 1 // missing/expired token or 401: prompt re-login
	KindServer                      // non-2xx or transport failure: retry
	KindSchema                      // response did not match the record contract
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindSchema:
		return "schema"
	}
	return "unknown"
}

const (
	msgAuth   = "Authentification requise. Veuillez vous reconnecter."
	msgServer = "Impossible de charger les paiements. Veuillez réessayer."
	msgSchema = "Format de réponse inattendu. Veuillez réessayer plus tard."
)

// Error is a user-displayable list failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

func classify(err error) *Error {
	var (
		se *apiclient.StatusError
		ve *payment.ValidationError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, apiclient.ErrUnauthenticated):
		return &Error{Kind: KindAuth, Message: msgAuth, Err: err}
	case errors.As(err, &ve):
		return &Error{Kind: KindSchema, Message: msgSchema, Err: err}
	case errors.As(err, &se) && se.Detail != "":
		return &Error{Kind: KindServer, Message: fmt.Sprintf("Impossible de charger les paiements: %s. Veuillez réessayer.", se.Detail), Err: err}
	default:
		return &Error{Kind: KindServer, Message: msgServer, Err: err}
	}
}
