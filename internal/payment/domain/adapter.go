package domain

import (
	"io"
	"net/url"
)

// AdapterConfig is the merchant configuration a gateway adapter needs.
type AdapterConfig struct {
	MerchantID     string
	MerchantSecret string
	CheckoutURL    string
	ReturnURL      string
	CancelURL      string
	NotifyURL      string
}

// GatewayAdapter speaks one hosted-checkout gateway's redirect protocol.
type GatewayAdapter interface {
	Provider() string
	// Checkout signs the redirect parameters for a pending order.
	Checkout(order PaymentOrder) (Session, error)
	// ParseNotification verifies the callback signature before parsing.
	// Any mismatch returns ErrInvalidSignature.
	ParseNotification(form url.Values) (*Notification, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (GatewayAdapter, error)
}

// ProofUpload is a bank transfer slip handed over by the transport layer.
type ProofUpload struct {
	Filename string
	Body     io.Reader
}
