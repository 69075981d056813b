package domain

// Policy holds the lending rules. Values are plain data so deployments
// can override them from configuration without touching the state
// machine.
type Policy struct {
	MaxConcurrentLoans    int `yaml:"maxConcurrentLoans"`
	MaxExtensions         int `yaml:"maxExtensions"`
	LoanDurationDays      int `yaml:"loanDurationDays"`
	ExtensionDays         int `yaml:"extensionDays"`
	ReservationExpiryDays int `yaml:"reservationExpiryDays"`
}

// DefaultPolicy returns the standard lending rules.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrentLoans:    5,
		MaxExtensions:         2,
		LoanDurationDays:      14,
		ExtensionDays:         7,
		ReservationExpiryDays: 7,
	}
}
