package payhere

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
)

const (
	ProviderName       = "payhere"
	defaultCheckoutURL = "https://sandbox.payhere.lk/pay/checkout"
)

// Status codes reported in the notify callback.
const (
	StatusSuccess    = "2"
	StatusPending    = "0"
	StatusCancelled  = "-1"
	StatusFailed     = "-2"
	StatusChargeback = "-3"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.GatewayAdapter, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	secret := strings.TrimSpace(cfg.MerchantSecret)
	if merchantID == "" || secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	checkout := strings.TrimSpace(cfg.CheckoutURL)
	if checkout == "" {
		checkout = defaultCheckoutURL
	}
	return &Adapter{
		merchantID:   merchantID,
		hashedSecret: hashedSecret(secret),
		checkoutURL:  checkout,
		returnURL:    cfg.ReturnURL,
		cancelURL:    cfg.CancelURL,
		notifyURL:    cfg.NotifyURL,
	}, nil
}

type Adapter struct {
	merchantID   string
	hashedSecret string
	checkoutURL  string
	returnURL    string
	cancelURL    string
	notifyURL    string
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) Checkout(order paymentdomain.PaymentOrder) (paymentdomain.Session, error) {
	if !order.Amount.IsPositive() {
		return paymentdomain.Session{}, paymentdomain.ErrInvalidAmount
	}
	amount := order.Amount.StringFixed(2)
	currency := strings.ToUpper(order.Currency)
	return paymentdomain.Session{
		Provider:    ProviderName,
		CheckoutURL: a.checkoutURL,
		MerchantID:  a.merchantID,
		OrderID:     order.OrderID,
		Amount:      amount,
		Currency:    currency,
		Hash:        upperMD5(a.merchantID + order.OrderID + amount + currency + a.hashedSecret),
		ReturnURL:   a.returnURL,
		CancelURL:   a.cancelURL,
		NotifyURL:   a.notifyURL,
		Items:       string(order.TargetType) + " " + order.TargetKey,
		Total:       order.Amount,
	}, nil
}

func (a *Adapter) ParseNotification(form url.Values) (*paymentdomain.Notification, error) {
	merchantID := strings.TrimSpace(form.Get("merchant_id"))
	orderID := strings.TrimSpace(form.Get("order_id"))
	amount := strings.TrimSpace(form.Get("payhere_amount"))
	currency := strings.TrimSpace(form.Get("payhere_currency"))
	statusCode := strings.TrimSpace(form.Get("status_code"))
	signature := strings.ToUpper(strings.TrimSpace(form.Get("md5sig")))

	if signature == "" || merchantID != a.merchantID {
		return nil, paymentdomain.ErrInvalidSignature
	}
	expected := upperMD5(merchantID + orderID + amount + currency + statusCode + a.hashedSecret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, paymentdomain.ErrInvalidSignature
	}

	if orderID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	outcome, ok := outcomeFor(statusCode)
	if !ok {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.Notification{
		Provider:         ProviderName,
		OrderID:          orderID,
		GatewayPaymentID: strings.TrimSpace(form.Get("payment_id")),
		StatusCode:       statusCode,
		Outcome:          outcome,
		Amount:           value,
		Currency:         strings.ToUpper(currency),
		Raw:              form,
	}, nil
}

// NotificationSignature is the md5sig the gateway attaches to a callback.
func NotificationSignature(merchantID, orderID, amount, currency, statusCode, secret string) string {
	return upperMD5(merchantID + orderID + amount + currency + statusCode + hashedSecret(secret))
}

func outcomeFor(code string) (paymentdomain.NotificationOutcome, bool) {
	switch code {
	case StatusSuccess:
		return paymentdomain.OutcomeSucceeded, true
	case StatusPending:
		return paymentdomain.OutcomePending, true
	case StatusCancelled:
		return paymentdomain.OutcomeCancelled, true
	case StatusFailed:
		return paymentdomain.OutcomeFailed, true
	case StatusChargeback:
		return paymentdomain.OutcomeReversed, true
	default:
		return "", false
	}
}

func hashedSecret(secret string) string {
	return upperMD5(secret)
}

func upperMD5(value string) string {
	sum := md5.Sum([]byte(value))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
