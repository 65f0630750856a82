package payment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is how much of the settlement asset a price costs.
type Quote struct {
	PriceAmount   decimal.Decimal
	PriceCurrency string
	PayAmount     decimal.Decimal
	PayCurrency   string
}

type PaymentRequest struct {
	Amount      decimal.Decimal
	OrderID     string
	Description string
}

// Instructions tell the user where and how much to pay.
type Instructions struct {
	PaymentID     string
	OrderID       string
	PayAddress    string
	PayAmount     decimal.Decimal
	PayCurrency   string
	PriceAmount   decimal.Decimal
	PriceCurrency string
	ExpiresAt     time.Time
}

// Settlement is the result of polling one payment.
type Settlement struct {
	PaymentID    string
	State        State
	RawStatus    string
	PayAmount    decimal.Decimal
	ActuallyPaid decimal.Decimal
}

// NowPayments wire types.

type estimateResponse struct {
	CurrencyFrom    string          `json:"currency_from"`
	AmountFrom      decimal.Decimal `json:"amount_from"`
	CurrencyTo      string          `json:"currency_to"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
}

type createPaymentRequest struct {
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	PayCurrency      string          `json:"pay_currency"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description,omitempty"`
}

type paymentResponse struct {
	PaymentID     flexID          `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	PayAddress    string          `json:"pay_address"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	PayCurrency   string          `json:"pay_currency"`
	OrderID       string          `json:"order_id"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// flexID accepts an id sent either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
