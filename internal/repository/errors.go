package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrDepositLimitNotFound = errors.New("deposit limit not found")
	ErrBalanceNotFound      = errors.New("user balance not found")
	ErrDuplicateTransRef    = errors.New("trans ref already recorded")
)

// isDuplicateKey reports a unique violation. Dialectors that translate errors
// return gorm.ErrDuplicatedKey; the message checks cover drivers that don't.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
