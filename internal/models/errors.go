package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidUserID is returned when a user id is not positive.
	ErrInvalidUserID = errors.New("user_id must be positive")
	// ErrInvalidAmount is returned when an amount is not positive or has more than two decimals.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places and 18 digits")
	// ErrInvalidDescription is returned when an order description is empty or too long.
	ErrInvalidDescription = errors.New("description must be between 1 and 255 characters")
	// ErrOrderNotFound is returned when an order does not exist for the caller.
	ErrOrderNotFound = errors.New("order not found")
	// ErrAccountNotFound is returned when no account exists for a user.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when an account already exists for a user.
	ErrAccountExists = errors.New("account for this user already exists")
	// ErrMalformedMessage marks an inbound message that can never be processed.
	ErrMalformedMessage = errors.New("malformed message")
)

const (
	amountScale       = 2
	amountMaxDigits   = 18
	descriptionMaxLen = 255
)

var amountLimit = decimal.New(1, amountMaxDigits-amountScale)

// ValidateAmount checks the NUMERIC(18,2) contract for money values.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return ErrInvalidAmount
	}
	if amount.GreaterThanOrEqual(amountLimit) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateDescription checks the order description length in characters.
func ValidateDescription(description string) error {
	n := len([]rune(description))
	if n == 0 || n > descriptionMaxLen {
		return ErrInvalidDescription
	}
	return nil
}
