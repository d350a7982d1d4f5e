package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockadesystems/creditportal/internal/payment"
)

func TestToken_Validate(t *testing.T) {
	assert.NoError(t, payment.Token{DataDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT", DataValue: "eyJjb2RlIjoi"}.Validate())
	assert.ErrorIs(t, payment.Token{DataDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT"}.Validate(), payment.ErrMissingToken)
	assert.ErrorIs(t, payment.Token{DataValue: "  "}.Validate(), payment.ErrMissingToken)
}

func TestDescribe(t *testing.T) {
	m := payment.Describe(" e_wc_05 ")
	assert.True(t, m.Known())
	assert.Equal(t, "E_WC_05", m.Code)
	assert.Equal(t, "The card number is not valid.", m.Text)

	declined := payment.Describe("2")
	assert.Equal(t, "The card was declined.", declined.Text)
	assert.NotEmpty(t, declined.Suggestion)

	unknown := payment.Describe("E_WC_99")
	assert.False(t, unknown.Known())
	assert.Equal(t, "The payment could not be processed.", unknown.Text)
}

func TestDescribeCVV(t *testing.T) {
	assert.Equal(t, "Security code did not match.", payment.DescribeCVV("n"))
	assert.Empty(t, payment.DescribeCVV("X"))
}
