package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/ridedesk/internal/chatmodel"
)

func action(id, label string) chatmodel.SuggestedAction {
	return chatmodel.SuggestedAction{ID: id, Label: label}
}

// WhereIsRideFlow answers location questions with live ETA, vehicle and
// traffic data. Missing context escalates to support instead of returning
// stale or fabricated data.
type WhereIsRideFlow struct{}

func (f *WhereIsRideFlow) Intent() chatmodel.Intent { return chatmodel.IntentWhereIsRide }

func (f *WhereIsRideFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	snap := fc.Snapshot
	if snap == nil || snap.Driver == nil {
		return SupportEscalationResult("I couldn't retrieve your live trip details right now. Let me connect you with our support team."), nil
	}

	driver := snap.Driver
	msg := fmt.Sprintf("%s is on the way in a %s (plate %s), currently %s and about %d minutes away.",
		driver.Name, driver.Vehicle, driver.Plate, driver.Location, driver.EtaMinutes)
	if snap.Traffic != nil {
		msg += " " + trafficNote(snap.Traffic.Congestion, snap.Traffic.DelayMinutes)
	}

	return &chatmodel.FlowResult{
		Success: true,
		Message: msg,
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionCallDriver, "Call the driver"),
			action(chatmodel.ActionReportLate, "My ride is late"),
			action(chatmodel.ActionAcknowledge, "Got it, thanks"),
		},
	}, nil
}

func trafficNote(congestion string, delayMinutes int) string {
	switch congestion {
	case "heavy":
		return fmt.Sprintf("Traffic is heavy on the route, adding roughly %d minutes.", delayMinutes)
	case "moderate":
		return fmt.Sprintf("Traffic is moderate, which may add around %d minutes.", delayMinutes)
	default:
		return "Traffic on the route is light."
	}
}

// RideLateFlow branches on the ETA threshold: above it the user gets
// wait/cancel/call options, at or below it an apology plus the updated ETA
// with no escalation path.
type RideLateFlow struct{}

func (f *RideLateFlow) Intent() chatmodel.Intent { return chatmodel.IntentRideLate }

func (f *RideLateFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	snap := fc.Snapshot
	if snap == nil || snap.Driver == nil {
		return SupportEscalationResult("I couldn't check your driver's current ETA. Let me connect you with our support team."), nil
	}

	eta := snap.Driver.EtaMinutes
	if eta > fc.Thresholds.LateEtaMinutes {
		return &chatmodel.FlowResult{
			Success: true,
			Message: fmt.Sprintf("I'm sorry for the long wait. Your driver is still about %d minutes away. You can keep waiting, cancel the booking, or call the driver directly.", eta),
			Actions: []chatmodel.SuggestedAction{
				action(chatmodel.ActionWait, "I'll wait"),
				action(chatmodel.ActionCancelBooking, "Cancel the booking"),
				action(chatmodel.ActionCallDriver, "Call the driver"),
			},
		}, nil
	}

	return &chatmodel.FlowResult{
		Success: true,
		Message: fmt.Sprintf("Sorry about the delay. The good news: your driver should reach you in about %d minutes.", eta),
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionCallDriver, "Call the driver"),
			action(chatmodel.ActionCancelBooking, "Cancel the booking"),
			action(chatmodel.ActionAcknowledge, "Okay, thanks"),
		},
	}, nil
}

// CannotReachDriverFlow is stateful across turns: each invocation increments
// the per-conversation contact-attempt counter. At MaxContactAttempts the
// flow unconditionally escalates to support.
type CannotReachDriverFlow struct{}

func (f *CannotReachDriverFlow) Intent() chatmodel.Intent { return chatmodel.IntentCannotReachDriver }

func (f *CannotReachDriverFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	attempts := fc.ContactAttempts + 1

	if attempts >= fc.Thresholds.MaxContactAttempts {
		result := SupportEscalationResult("You've tried reaching your driver several times without luck. I'm bringing in our support team to sort this out.")
		result.ContactAttempts = attempts
		return result, nil
	}

	return &chatmodel.FlowResult{
		Success:         true,
		Message:         "Sorry you couldn't reach your driver. You can try calling again, or I can send them an automated message asking them to contact you.",
		ContactAttempts: attempts,
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionRetryCall, "Try calling again"),
			action(chatmodel.ActionMessageDriver, "Send the driver a message"),
			action(chatmodel.ActionTalkToAgent, "Talk to a support agent"),
		},
	}, nil
}

// CancelBookingFlow presents the cancellation policy. Free cancellation only
// while the booking is strictly younger than the grace period; at or after
// the threshold the penalized branch applies. The flow never cancels without
// a separate explicit confirmation turn.
type CancelBookingFlow struct{}

func (f *CancelBookingFlow) Intent() chatmodel.Intent { return chatmodel.IntentCancelBooking }

func (f *CancelBookingFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	snap := fc.Snapshot
	if snap == nil || snap.Booking == nil {
		return SupportEscalationResult("I couldn't load your booking details to check the cancellation policy. Let me connect you with our support team."), nil
	}

	elapsed := time.Since(snap.Booking.CreatedAt)
	var msg string
	if elapsed < fc.Thresholds.CancelGracePeriod {
		msg = "You can still cancel free of charge. Do you want me to cancel this booking?"
	} else {
		msg = "Cancelling now may include a small cancellation fee since the driver is already on the way. Do you want me to cancel this booking?"
	}

	return &chatmodel.FlowResult{
		Success: true,
		Message: msg,
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionConfirmCancel, "Yes, cancel it"),
			action(chatmodel.ActionKeepBooking, "No, keep my booking"),
		},
	}, nil
}

// PaymentQuestionFlow summarizes the fare from the booking context and offers
// a support handoff for anything deeper.
type PaymentQuestionFlow struct{}

func (f *PaymentQuestionFlow) Intent() chatmodel.Intent { return chatmodel.IntentPaymentQuestion }

func (f *PaymentQuestionFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	msg := "I can help with payment questions."
	if fc.Snapshot != nil && fc.Snapshot.Booking != nil {
		b := fc.Snapshot.Booking
		msg = fmt.Sprintf("Your fare for this trip is %.2f for %.1f km. Payment is collected after the trip completes.", b.Fare, b.DistanceKm)
	}
	msg += " For billing disputes or refunds, our support team can take a closer look."

	return &chatmodel.FlowResult{
		Success: true,
		Message: msg,
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionTalkToAgent, "Talk to a support agent"),
			action(chatmodel.ActionAcknowledge, "That answers it"),
		},
	}, nil
}

// CallDriverFlow surfaces the driver's phone number.
type CallDriverFlow struct{}

func (f *CallDriverFlow) Intent() chatmodel.Intent { return chatmodel.IntentCallDriver }

func (f *CallDriverFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	snap := fc.Snapshot
	if snap == nil || snap.Driver == nil {
		return SupportEscalationResult("I couldn't look up your driver's contact details. Let me connect you with our support team."), nil
	}

	return &chatmodel.FlowResult{
		Success: true,
		Message: fmt.Sprintf("You can call %s at %s.", snap.Driver.Name, snap.Driver.Phone),
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionMessageDriver, "Send a message instead"),
			action(chatmodel.ActionAcknowledge, "Got it"),
		},
	}, nil
}

// MessageDriverFlow sends an automated message to the driver. Delivery goes
// through the notifier when one is wired, falling back to the provider's
// direct notification operation.
type MessageDriverFlow struct{}

func (f *MessageDriverFlow) Intent() chatmodel.Intent { return chatmodel.IntentMessageDriver }

func (f *MessageDriverFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	driverID := fc.DriverID
	if driverID == "" && fc.Snapshot != nil && fc.Snapshot.Booking != nil {
		driverID = fc.Snapshot.Booking.DriverID
	}
	if driverID == "" || (fc.Notifier == nil && fc.Provider == nil) {
		return SupportEscalationResult("I couldn't message your driver right now. Let me connect you with our support team."), nil
	}

	const body = "Your rider is trying to reach you. Please check the app or call them back."
	var err error
	if fc.Notifier != nil {
		err = fc.Notifier.NotifyDriver(ctx, fc.ConversationID, driverID, body)
	} else {
		err = fc.Provider.SendNotification(ctx, driverID, body)
	}
	if err != nil {
		return SupportEscalationResult("The message to your driver didn't go through. Let me connect you with our support team."), nil
	}

	return &chatmodel.FlowResult{
		Success: true,
		Message: "Done. I've sent your driver a message asking them to contact you.",
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionCallDriver, "Call the driver"),
			action(chatmodel.ActionAcknowledge, "Thanks"),
		},
	}, nil
}

// SafetyConcernFlow is an unconditional safety escalation directive.
type SafetyConcernFlow struct{}

func (f *SafetyConcernFlow) Intent() chatmodel.Intent { return chatmodel.IntentSafetyConcern }

func (f *SafetyConcernFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	return &chatmodel.FlowResult{
		Success:        true,
		Message:        "Your safety comes first. I'm escalating this right away and a member of our safety team will reach out immediately. If you are in danger, call your local emergency number.",
		Escalate:       true,
		EscalationKind: chatmodel.EscalateSafety,
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionTalkToAgent, "Talk to the safety team"),
		},
	}, nil
}

// HumanAgentFlow is an unconditional support escalation directive.
type HumanAgentFlow struct{}

func (f *HumanAgentFlow) Intent() chatmodel.Intent { return chatmodel.IntentHumanAgent }

func (f *HumanAgentFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	return &chatmodel.FlowResult{
		Success:        true,
		Message:        "Of course. I'm connecting you with a support agent who will have your full conversation history.",
		Escalate:       true,
		EscalationKind: chatmodel.EscalateSupport,
		Actions:        []chatmodel.SuggestedAction{},
	}, nil
}

// FallbackFlow handles unknown intents with a capability listing and a
// support suggestion rather than a dead end.
type FallbackFlow struct{}

func (f *FallbackFlow) Intent() chatmodel.Intent { return chatmodel.IntentUnknown }

func (f *FallbackFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	return &chatmodel.FlowResult{
		Success: true,
		Message: "I didn't quite catch that. I can help you track your ride, deal with delays, reach your driver, cancel a booking, or answer payment questions. You can also talk to a support agent at any time.",
		Actions: []chatmodel.SuggestedAction{
			action(chatmodel.ActionWhereIsRide, "Where is my ride?"),
			action(chatmodel.ActionReportLate, "My ride is late"),
			action(chatmodel.ActionCancelBooking, "Cancel the booking"),
			action(chatmodel.ActionTalkToAgent, "Talk to a support agent"),
		},
	}, nil
}
