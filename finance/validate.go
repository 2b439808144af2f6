package finance

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

func validateName(v *ValidationError, field, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		v.add(field, "must not be empty")
	case utf8.RuneCountInString(name) > MaxNameLength:
		v.add(field, "must be at most 50 characters")
	}
}

func validateTransaction(tx Transaction) error {
	v := &ValidationError{}
	if tx.Amount.IsNegative() {
		v.add("amount", "must be greater than or equal to 0")
	}
	switch {
	case strings.TrimSpace(tx.Description) == "":
		v.add("description", "must not be empty")
	case utf8.RuneCountInString(tx.Description) > MaxDescriptionLength:
		v.add("description", "must be at most 200 characters")
	}
	if !tx.Type.Valid() {
		v.add("type", "must be one of expense, income")
	}
	if !tx.Status.Valid() {
		v.add("status", "must be one of pending, completed, cancelled")
	}
	return v.orNil()
}

func validateCategory(c Category) error {
	v := &ValidationError{}
	validateName(v, "name", c.Name)
	if !c.DefaultType.Valid() {
		v.add("defaultType", "must be one of expense, income")
	}
	return v.orNil()
}

func validateWallet(w Wallet) error {
	v := &ValidationError{}
	validateName(v, "name", w.Name)
	return v.orNil()
}

// ParseAmount parses a decimal amount, reporting failures as a ValidationError.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &ValidationError{Fields: []FieldError{{Field: field, Message: "must be a decimal number"}}}
	}
	return d, nil
}
