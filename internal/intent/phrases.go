package intent

import "github.com/ridedesk/internal/chatmodel"

// DefaultPhraseSets returns the curated training phrases per intent. The sets
// are intentionally small and hand-picked; classification quality comes from
// the overlap scoring, not from corpus size.
func DefaultPhraseSets() map[chatmodel.Intent][]string {
	return map[chatmodel.Intent][]string{
		chatmodel.IntentWhereIsRide: {
			"where is my vehicle",
			"where is my ride",
			"where is the car",
			"where is my driver",
			"how far away is the driver",
			"track my ride",
			"is my taxi coming",
			"vehicle location",
		},
		chatmodel.IntentRideLate: {
			"vehicle is late",
			"my ride is late",
			"driver is taking too long",
			"still waiting for the car",
			"why is it delayed",
			"running very late",
		},
		chatmodel.IntentCannotReachDriver: {
			"cannot reach operator",
			"cannot reach my driver",
			"driver is not answering",
			"no response from the driver",
			"cant contact the driver",
			"driver not picking up the phone",
		},
		chatmodel.IntentCancelBooking: {
			"cancel booking",
			"cancel my ride",
			"i want to cancel",
			"stop the booking",
			"dont need the ride anymore",
			"call off my trip",
		},
		chatmodel.IntentPaymentQuestion: {
			"payment question",
			"how much will it cost",
			"question about the fare",
			"i was charged twice",
			"need a receipt",
			"billing problem",
		},
		chatmodel.IntentSafetyConcern: {
			"safety concern",
			"i feel unsafe",
			"i do not feel safe",
			"something is wrong with the driver",
			"report a safety issue",
		},
		chatmodel.IntentCallDriver: {
			"call operator",
			"call my driver",
			"phone the driver",
			"i want to call the driver",
		},
		chatmodel.IntentMessageDriver: {
			"message operator",
			"message my driver",
			"send a message to the driver",
			"text the driver",
		},
		chatmodel.IntentHumanAgent: {
			"talk to human agent",
			"speak to a person",
			"connect me to support",
			"i need a real person",
			"customer service please",
			"talk to an agent",
		},
	}
}

// defaultQuickActions maps intents to the quick action the UI can pre-select.
func defaultQuickActions() map[chatmodel.Intent]string {
	return map[chatmodel.Intent]string{
		chatmodel.IntentWhereIsRide:       chatmodel.ActionWhereIsRide,
		chatmodel.IntentRideLate:          chatmodel.ActionReportLate,
		chatmodel.IntentCannotReachDriver: chatmodel.ActionRetryCall,
		chatmodel.IntentCancelBooking:     chatmodel.ActionCancelBooking,
		chatmodel.IntentCallDriver:        chatmodel.ActionCallDriver,
		chatmodel.IntentMessageDriver:     chatmodel.ActionMessageDriver,
		chatmodel.IntentHumanAgent:        chatmodel.ActionTalkToAgent,
	}
}
