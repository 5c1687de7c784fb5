package bot

import (
	"os"
	"time"
)

// Inline-button action ids echoed back by the transport
const (
	ActionBuy      = "buy"
	ActionCheck    = "check"
	ActionRemarket = "remarket"
)

// Campaign holds the purchase-flow copy and the reminder policy. The
// text is configuration-like input to the presentation layer; the
// defaults are placeholders an operator overrides per deployment.
type Campaign struct {
	Price         string
	RemarketPrice string

	WelcomeText     string
	GeneratingText  string
	PixInstructions string
	PendingText     string
	SettledText     string
	AccessText      string
	NudgeText       string
	RemarketText    string
	FailureText     string
	NoSessionText   string

	BuyLabel      string
	CheckLabel    string
	RemarketLabel string

	NudgeDelay    time.Duration
	RemarketDelay time.Duration
}

// DefaultCampaign returns the stock campaign, with prices overridable
// from the environment
func DefaultCampaign() Campaign {
	return Campaign{
		Price:         getEnv("CAMPAIGN_PRICE", "9.90"),
		RemarketPrice: getEnv("CAMPAIGN_REMARKET_PRICE", "6.99"),

		WelcomeText:     "Welcome! Tap the button below to buy lifetime access with a single PIX payment.",
		GeneratingText:  "Generating your payment, one moment...",
		PixInstructions: "Your payment is ready. You have 30 minutes to complete the PIX. Tap the code below to copy it.",
		PendingText:     "Your payment has not been confirmed yet. Approval usually takes 10 to 60 seconds after paying.",
		SettledText:     "Payment confirmed! Thank you for your purchase.",
		AccessText:      getEnv("CAMPAIGN_ACCESS_TEXT", "Here is your access link."),
		NudgeText:       "Your payment has not been credited yet. Approval usually takes 10 to 60 seconds after the purchase is made.",
		RemarketText:    "We noticed you generated a payment but did not finish the purchase. The price just dropped, tap below to grab it.",
		FailureText:     "Something went wrong while processing your payment. Please try again later.",
		NoSessionText:   "There is no pending purchase for you. Tap below to start one.",

		BuyLabel:      "Buy now",
		CheckLabel:    "Check my payment",
		RemarketLabel: "Get the discount",

		NudgeDelay:    4 * time.Minute,
		RemarketDelay: 60 * time.Minute,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
