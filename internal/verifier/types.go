package verifier

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrImageTooLarge = errors.New("image size too large")
	ErrInvalidImage  = errors.New("invalid image")
	// ErrInvalidSlip is a definitive negative answer: the provider rejected
	// the slip, answered with an error status or returned nothing usable.
	ErrInvalidSlip = errors.New("invalid slip")
	// ErrVerifierUnavailable means no answer arrived in time. The user may
	// retry with the same slip.
	ErrVerifierUnavailable = errors.New("slip verifier unavailable")
)

// SlipImage is an uploaded slip before it leaves the process.
type SlipImage struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Account struct {
	NameTH      string
	NameEN      string
	AccountType string // e.g. BANKAC for a bank account, PROXY for PromptPay ids
	Account     string
	BankID      string
}

// VerifiedSlip is the structured transfer the provider read from a slip.
type VerifiedSlip struct {
	TransRef      string
	Amount        decimal.Decimal
	TransferredAt *time.Time
	Sender        Account
	Receiver      Account
}

type verifyRequest struct {
	Image string `json:"image"`
}

type verifyResponse struct {
	Status  int          `json:"status"`
	Message string       `json:"message,omitempty"`
	Data    *payloadData `json:"data"`
}

type payloadData struct {
	TransRef string        `json:"transRef"`
	Date     string        `json:"date"`
	Amount   payloadAmount `json:"amount"`
	Sender   payloadParty  `json:"sender"`
	Receiver payloadParty  `json:"receiver"`
}

type payloadAmount struct {
	Amount decimal.Decimal `json:"amount"`
}

type payloadParty struct {
	Bank    payloadBankID  `json:"bank"`
	Account payloadAccount `json:"account"`
}

type payloadBankID struct {
	ID string `json:"id"`
}

type payloadAccount struct {
	Name struct {
		TH string `json:"th"`
		EN string `json:"en"`
	} `json:"name"`
	Bank struct {
		Type    string `json:"type"`
		Account string `json:"account"`
	} `json:"bank"`
}

func (d *payloadData) toSlip() (*VerifiedSlip, error) {
	if d == nil || d.TransRef == "" {
		return nil, ErrInvalidSlip
	}
	if !d.Amount.Amount.IsPositive() {
		return nil, ErrInvalidSlip
	}
	// Transfers settle in satang; finer amounts cannot come from a real slip.
	if !d.Amount.Amount.Equal(d.Amount.Amount.Round(2)) {
		return nil, ErrInvalidSlip
	}

	slip := &VerifiedSlip{
		TransRef: d.TransRef,
		Amount:   d.Amount.Amount,
		Sender:   d.Sender.toAccount(),
		Receiver: d.Receiver.toAccount(),
	}
	if d.Date != "" {
		if at, err := time.Parse(time.RFC3339, d.Date); err == nil {
			at = at.UTC()
			slip.TransferredAt = &at
		}
	}
	return slip, nil
}

func (p payloadParty) toAccount() Account {
	return Account{
		NameTH:      p.Account.Name.TH,
		NameEN:      p.Account.Name.EN,
		AccountType: p.Account.Bank.Type,
		Account:     p.Account.Bank.Account,
		BankID:      p.Bank.ID,
	}
}
