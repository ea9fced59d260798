package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/apperr"
)

func TestParseMoney(t *testing.T) {
	cases := map[string]Money{
		"25.50": 2550,
		"25.5":  2550,
		"500":   50000,
		"0.07":  7,
		"-1.25": -125,
	}
	for in, want := range cases {
		got, err := ParseMoney(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMoney("1.234")
	assert.Error(t, err)
	_, err = ParseMoney("abc")
	assert.Error(t, err)
}

func TestMoneyJSON(t *testing.T) {
	var p ProductSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"price": 25.50}`), &p))
	assert.Equal(t, Money(2550), p.Price)
	require.NoError(t, json.Unmarshal([]byte(`{"price": "500.00"}`), &p))
	assert.Equal(t, Money(50000), p.Price)

	b, err := json.Marshal(Money(2550))
	require.NoError(t, err)
	assert.Equal(t, `"25.50"`, string(b))
}

func TestMessageValidateVariants(t *testing.T) {
	link := &PaymentLink{PaymentID: "p1", Amount: 50000, Currency: "USD", Status: PaymentPending}
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"plain text", Message{Type: MessageText, Body: "hello"}, false},
		{"empty text", Message{Type: MessageText, Body: "  "}, true},
		{"payment link", Message{Type: MessagePaymentLink, PaymentLink: link}, false},
		{"payment link missing payload", Message{Type: MessagePaymentLink}, true},
		{"zero amount", Message{Type: MessagePaymentLink, PaymentLink: &PaymentLink{Amount: 0, Currency: "USD"}}, true},
		{"missing currency", Message{Type: MessagePaymentLink, PaymentLink: &PaymentLink{Amount: 100}}, true},
		{"foreign payload on text", Message{Type: MessageText, Body: "hi", PaymentLink: link}, true},
		{"product on quote", Message{Type: MessageQuoteReference, QuoteRef: &QuoteReference{QuoteID: "q"}, ProductContext: &ProductSnapshot{}}, true},
		{"quote without id", Message{Type: MessageQuoteReference, QuoteRef: &QuoteReference{}}, true},
		{"unknown type", Message{Type: "sticker"}, true},
		{"attachment without path", Message{Type: MessageText, Body: "x", Attachments: []Attachment{{Name: "a.pdf"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsValidation(err), "want validation error, got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("conversation.abc")
	require.NoError(t, err)
	assert.Equal(t, ConversationChannel("abc"), ch)
	assert.Equal(t, "user.u1", UserChannel("u1").String())

	for _, bad := range []string{"", "conversation", "conversation.", "room.1"} {
		_, err := ParseChannel(bad)
		assert.Error(t, err, bad)
	}
}
