package valuation

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// MissingRateError reports a discount curve without a rate for a term-month
// the computation needs. It is a reference-data error and is never replaced
// by a default rate.
type MissingRateError struct {
	Curve  string
	Period int
}

func (e *MissingRateError) Error() string {
	if e.Curve == "" {
		return fmt.Sprintf("valuation: monthly forward rate missing, period: %d", e.Period)
	}
	return fmt.Sprintf("valuation: monthly forward rate missing, curve: %s, period: %d", e.Curve, e.Period)
}

// MissingFactorsError reports a class code with no configured development
// pattern.
type MissingFactorsError struct {
	ClassCode string
}

func (e *MissingFactorsError) Error() string {
	return fmt.Sprintf("valuation: no claim development factors configured for class code %q", e.ClassCode)
}

// ErrNegativeOffset is returned when a claim group's accident month is later
// than the valuation month.
var ErrNegativeOffset = eris.New("valuation: accident month is after valuation month")

// IsConfigurationError reports whether err stems from incomplete reference
// data (missing rate or missing development pattern).
func IsConfigurationError(err error) bool {
	var mr *MissingRateError
	var mf *MissingFactorsError
	return errors.As(err, &mr) || errors.As(err, &mf)
}
