package services

import (
	"fmt"

	"github.com/nimasrn/deposit-gateway/internal/verifier"
)

// ReceiverIdentity is the merchant account every deposit must be paid into.
type ReceiverIdentity struct {
	NameTH      string
	NameEN      string
	AccountType string
	Account     string
}

// ValidateReceiver requires all four receiver fields of the slip to equal the
// merchant identity exactly.
func ValidateReceiver(expected ReceiverIdentity, slip *verifier.VerifiedSlip) error {
	if slip == nil {
		return ErrInvalidReceiver
	}
	got := slip.Receiver
	switch {
	case got.NameTH != expected.NameTH:
		return fmt.Errorf("%w: thai name", ErrInvalidReceiver)
	case got.NameEN != expected.NameEN:
		return fmt.Errorf("%w: english name", ErrInvalidReceiver)
	case got.AccountType != expected.AccountType:
		return fmt.Errorf("%w: account type %q", ErrInvalidReceiver, got.AccountType)
	case got.Account != expected.Account:
		return fmt.Errorf("%w: account number", ErrInvalidReceiver)
	}
	return nil
}
