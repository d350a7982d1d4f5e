// Package payment handles the opaque card token produced by the gateway's
// tokenization script and maps gateway codes to operator-friendly text.
package payment

import (
	"errors"
	"strings"
)

// ErrMissingToken is returned when a submission arrives without a tokenized card.
var ErrMissingToken = errors.New("payment: card was not tokenized")

// Token is the opaque payment nonce. Card numbers never reach this server.
type Token struct {
	DataDescriptor string `json:"dataDescriptor" form:"dataDescriptor"`
	DataValue      string `json:"dataValue" form:"dataValue"`
}

// Validate checks the token is complete.
func (t Token) Validate() error {
	if strings.TrimSpace(t.DataDescriptor) == "" || strings.TrimSpace(t.DataValue) == "" {
		return ErrMissingToken
	}
	return nil
}

// Message is a human readable explanation of a gateway code.
type Message struct {
	Code       string
	Text       string
	Suggestion string
}

// Known reports whether the code had a specific entry.
func (m Message) Known() bool { return m.Code != "" }

var genericMessage = Message{
	Text:       "The payment could not be processed.",
	Suggestion: "Please check your card details and try again, or use a different card.",
}

var messages = map[string]Message{
	// Tokenization script errors.
	"E_WC_01": {Text: "The payment form failed to load.", Suggestion: "Refresh the page and try again."},
	"E_WC_02": {Text: "A secure connection is required to take payments.", Suggestion: "Make sure the address starts with https:// and try again."},
	"E_WC_03": {Text: "The payment form failed to load.", Suggestion: "Refresh the page and try again."},
	"E_WC_04": {Text: "Some card details are missing.", Suggestion: "Fill in the card number, expiry and security code."},
	"E_WC_05": {Text: "The card number is not valid.", Suggestion: "Check the card number and try again."},
	"E_WC_06": {Text: "The expiration month is not valid.", Suggestion: "Enter the month as two digits, e.g. 04."},
	"E_WC_07": {Text: "The expiration year is not valid.", Suggestion: "Enter the year as four digits, e.g. 2027."},
	"E_WC_08": {Text: "The card has expired.", Suggestion: "Use a card with an expiration date in the future."},
	"E_WC_10": {Text: "Online payment is not configured correctly.", Suggestion: "Please contact us to complete your payment."},
	"E_WC_14": {Text: "Your card details could not be secured.", Suggestion: "Refresh the page and try again."},
	"E_WC_15": {Text: "The security code is not valid.", Suggestion: "Enter the 3 or 4 digit code printed on your card."},
	"E_WC_16": {Text: "The billing ZIP code is not valid.", Suggestion: "Enter the 5 digit ZIP code for your card's billing address."},
	"E_WC_17": {Text: "The cardholder name is not valid.", Suggestion: "Enter the name exactly as it appears on the card."},
	"E_WC_19": {Text: "The payment service is temporarily unavailable.", Suggestion: "Please wait a moment and try again."},
	"E_WC_21": {Text: "Online payment is not configured correctly.", Suggestion: "Please contact us to complete your payment."},

	// Transaction response reason codes relayed by the API.
	"2":  {Text: "The card was declined.", Suggestion: "Contact your card issuer or use a different card."},
	"3":  {Text: "The card issuer requires a voice authorization.", Suggestion: "Contact your card issuer or use a different card."},
	"4":  {Text: "The card was declined.", Suggestion: "Contact your card issuer or use a different card."},
	"6":  {Text: "The card number is not valid.", Suggestion: "Check the card number and try again."},
	"8":  {Text: "The card has expired.", Suggestion: "Use a card with an expiration date in the future."},
	"11": {Text: "This payment was already submitted.", Suggestion: "Wait two minutes before trying again to avoid a double charge."},
	"27": {Text: "The billing address does not match the card.", Suggestion: "Check the street address and ZIP code on file with your card issuer."},
	"44": {Text: "The security code does not match.", Suggestion: "Check the 3 or 4 digit code printed on your card."},
	"45": {Text: "The billing address and security code do not match.", Suggestion: "Check your billing details and security code."},
	"65": {Text: "The security code does not match.", Suggestion: "Check the 3 or 4 digit code printed on your card."},
}

var cvvMessages = map[string]string{
	"M": "Security code matched.",
	"N": "Security code did not match.",
	"P": "Security code was not processed.",
	"S": "Security code should be on the card but was not provided.",
	"U": "The card issuer could not verify the security code.",
}

// Describe maps a tokenization error code or transaction reason code to a
// Message. Unknown codes yield a generic message with an empty Code.
func Describe(code string) Message {
	code = strings.ToUpper(strings.TrimSpace(code))
	m, ok := messages[code]
	if !ok {
		return genericMessage
	}
	m.Code = code
	return m
}

// DescribeCVV explains a card code verification result letter.
func DescribeCVV(result string) string {
	if text, ok := cvvMessages[strings.ToUpper(strings.TrimSpace(result))]; ok {
		return text
	}
	return ""
}
