package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"coffeepay/internal/model"
	"coffeepay/internal/service"
	"coffeepay/internal/usermsg"
)

var minorUnits = decimal.NewFromInt(100)

// decision is the outcome of one reconciliation pass, computed without I/O.
// A zero decision means "log only, change nothing".
type decision struct {
	newStatus      model.OrderStatus // empty = status unchanged
	nextCheckAt    *time.Time
	clearNextCheck bool
	failedDesc     string
	dispense       bool
	reason         string
}

// isFastTrack applies the time-sensitive policy: an order is fast track while
// the elapsed time since the payment redirect is within the limit, boundary
// inclusive. The decision is recomputed on every pass, so an order that ages
// past the limit while still pending flips to slow-track scheduling.
func isFastTrack(order *model.Order, now time.Time, p Policy) bool {
	if order.PaymentStartedAt == nil {
		return true
	}
	return now.Sub(*order.PaymentStartedAt) <= p.FastTrackLimit
}

// decide maps a provider status onto the order state machine. It is a pure
// function of the order snapshot, the provider's answer, the trigger source
// and the clock, which keeps the whole transition table testable without a
// database or network.
func decide(order *model.Order, status service.ProviderStatus, trigger Trigger, now time.Time, p Policy) decision {
	fast := isFastTrack(order, now, p)

	stillPending := status == service.ProviderPending ||
		(status == service.ProviderWaitingForCapture && trigger == TriggerPoll)

	switch {
	case stillPending:
		d := decision{reason: "payment still pending"}
		if order.StatusCheckType == model.CheckPolling {
			interval := p.SlowTrackInterval
			if fast {
				interval = p.FastTrackInterval
			}
			next := now.Add(interval)
			d.nextCheckAt = &next
		}
		return d

	case status == service.ProviderSucceeded && fast:
		return decision{
			newStatus:      model.StatusPaid,
			clearNextCheck: true,
			dispense:       true,
			reason:         "payment succeeded, fast track",
		}

	case status == service.ProviderSucceeded:
		return decision{
			newStatus:      model.StatusManualMake,
			clearNextCheck: true,
			reason:         "payment succeeded, slow track",
		}

	case status == service.ProviderCanceled:
		return decision{
			newStatus:      model.StatusNotPaid,
			clearNextCheck: true,
			reason:         "payment canceled",
		}

	case status == service.ProviderWaitingForCapture: // webhook trigger
		return decision{
			newStatus:      model.StatusFailed,
			clearNextCheck: true,
			failedDesc:     usermsg.ManualConfirmation,
			reason:         "payment stuck waiting for capture",
		}

	default:
		return decision{reason: "unrecognized provider status " + string(status)}
	}
}
