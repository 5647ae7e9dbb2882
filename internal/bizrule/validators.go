package bizrule

import (
	"errors"
	"fmt"
	"time"
)

// Validator ids registered by RegisterDefaults. Rule configurations bind
// these names in their `validator` field.
const (
	ValidatorPDPAConsent    = "pdpa_consent"
	ValidatorConsentScope   = "consent_scope"
	ValidatorRetentionLimit = "retention_limit"
	ValidatorDataResidency  = "data_residency"
	ValidatorBookingWindow  = "booking_window"
	ValidatorBookingOrder   = "booking_order"
)

// maxRetentionDays is the default personal-data retention ceiling.
const maxRetentionDays = 2555 // 7 years, medical record statutory period

// RegisterDefaults installs the built-in validators and correction
// strategies. Host applications may register additional ones before or
// after; later registrations for the same id win.
func RegisterDefaults(e *Engine, allowedResidencies []string) {
	e.RegisterValidator(ValidatorPDPAConsent, func(p Payload) error {
		if p.ContainsSensitiveData && !p.ConsentObtained {
			return errors.New("personal data processed without PDPA consent")
		}
		return nil
	})

	e.RegisterValidator(ValidatorConsentScope, func(p Payload) error {
		if p.ConsentObtained && len(p.ConsentScope) == 0 {
			return errors.New("consent recorded without an explicit scope")
		}
		return nil
	})

	e.RegisterValidator(ValidatorRetentionLimit, func(p Payload) error {
		if p.RetentionDays > maxRetentionDays {
			return fmt.Errorf("retention of %d days exceeds the %d-day limit",
				p.RetentionDays, maxRetentionDays)
		}
		return nil
	})

	e.RegisterValidator(ValidatorDataResidency, func(p Payload) error {
		if p.DataResidency == "" || len(allowedResidencies) == 0 {
			return nil
		}
		for _, r := range allowedResidencies {
			if p.DataResidency == r {
				return nil
			}
		}
		return fmt.Errorf("data stored in disallowed region %q", p.DataResidency)
	})

	e.RegisterValidator(ValidatorBookingWindow, func(p Payload) error {
		if p.AppointmentStart.IsZero() {
			return nil
		}
		if p.AppointmentStart.Before(time.Now().Add(-24 * time.Hour)) {
			return errors.New("appointment booked more than 24h in the past")
		}
		return nil
	})

	e.RegisterValidator(ValidatorBookingOrder, func(p Payload) error {
		if p.AppointmentStart.IsZero() || p.AppointmentEnd.IsZero() {
			return nil
		}
		if !p.AppointmentEnd.After(p.AppointmentStart) {
			return errors.New("appointment end does not follow its start")
		}
		return nil
	})

	// Corrections. Each returns what it did so the audit trail shows the
	// mutation; the host application applies the change to its own store.
	e.RegisterCorrection(ValidatorRetentionLimit, func(p Payload) (CorrectionResult, error) {
		return CorrectionResult{
			Success: true,
			Action:  "cap_retention",
			Details: fmt.Sprintf("retention for %s capped from %d to %d days",
				p.EntityID, p.RetentionDays, maxRetentionDays),
		}, nil
	})

	e.RegisterCorrection(ValidatorConsentScope, func(p Payload) (CorrectionResult, error) {
		return CorrectionResult{
			Success: true,
			Action:  "request_scope_confirmation",
			Details: fmt.Sprintf("re-confirmation of consent scope queued for %s", p.EntityID),
		}, nil
	})

	e.RegisterCorrection(ValidatorBookingOrder, func(p Payload) (CorrectionResult, error) {
		if p.AppointmentEnd.Equal(p.AppointmentStart) {
			return CorrectionResult{
				Success: true,
				Action:  "extend_appointment",
				Details: fmt.Sprintf("appointment %s extended to the default 30m slot", p.EntityID),
			}, nil
		}
		return CorrectionResult{
			Success: false,
			Action:  "manual_review",
			Details: "inverted appointment interval needs operator review",
		}, nil
	})
}
