package nlu

import "strings"

// Intent is one of the closed set of labels the classifier can produce.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentExpressInterest Intent = "express_interest"
	IntentAskAboutProduct Intent = "ask_about_product"
	IntentRequestPrice    Intent = "request_price"
	IntentScheduleMeeting Intent = "schedule_meeting"
	IntentDeclineOffer    Intent = "decline_offer"
	IntentRequestInfo     Intent = "request_info"
	IntentThanks          Intent = "thanks"
	IntentGoodbye         Intent = "goodbye"
	IntentUnknown         Intent = "unknown"
)

var allIntents = []Intent{
	IntentGreeting,
	IntentExpressInterest,
	IntentAskAboutProduct,
	IntentRequestPrice,
	IntentScheduleMeeting,
	IntentDeclineOffer,
	IntentRequestInfo,
	IntentThanks,
	IntentGoodbye,
	IntentUnknown,
}

// Intents returns every known label in a stable order.
func Intents() []Intent {
	out := make([]Intent, len(allIntents))
	copy(out, allIntents)
	return out
}

// ParseIntent matches s against the closed label set, ignoring case and
// surrounding whitespace.
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, in := range allIntents {
		if string(in) == s {
			return in, true
		}
	}
	return IntentUnknown, false
}

// IsControl reports whether the intent short-circuits goal logic.
func (i Intent) IsControl() bool {
	return i == IntentGreeting || i == IntentThanks || i == IntentGoodbye
}
