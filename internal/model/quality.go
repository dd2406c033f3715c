package model

import "strings"

// Quality is the animal tier a share is bought in.  Each tier has its own
// price and its own share cap in the ledger.
type Quality string

const (
	QualityStandard Quality = "Standard"
	QualityMedium   Quality = "Medium"
	QualityPremium  Quality = "Premium"
)

// Qualities lists every tier in display order.
var Qualities = []Quality{QualityStandard, QualityMedium, QualityPremium}

// Valid reports whether q is one of the three known tiers.
func (q Quality) Valid() bool {
	switch q {
	case QualityStandard, QualityMedium, QualityPremium:
		return true
	}
	return false
}

// ParseQuality accepts a tier name in any letter case.
func ParseQuality(s string) (Quality, bool) {
	for _, q := range Qualities {
		if strings.EqualFold(string(q), strings.TrimSpace(s)) {
			return q, true
		}
	}
	return "", false
}

// PaymentStatus tracks where a participation is in the manual payment flow.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentRejected  PaymentStatus = "Rejected"
)

// paymentTransitions enumerates the allowed status changes.  Moving into
// Completed allocates slots; moving out of Completed releases them.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentRejected},
	PaymentCompleted: {PaymentPending, PaymentRejected},
	PaymentRejected:  {PaymentPending, PaymentCompleted},
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// CanTransition reports whether a participation in status s may move to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, n := range paymentTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// ParsePaymentStatus accepts a status name in any letter case.
func ParsePaymentStatus(v string) (PaymentStatus, bool) {
	for s := range paymentTransitions {
		if strings.EqualFold(string(s), strings.TrimSpace(v)) {
			return s, true
		}
	}
	return "", false
}
