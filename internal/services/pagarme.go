package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement status values reported by ChargeStatus
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
)

// pixExpirySeconds is the payment window communicated to the gateway.
// Expiry is enforced gateway-side; the client only declares it.
const pixExpirySeconds = 1800

// BuyerInfo carries the customer fields the gateway requires
type BuyerInfo struct {
	Name     string
	Email    string
	Document string
}

// PaymentArtifact is what the buyer needs in order to pay: the
// copy-paste PIX code and the URL of the scannable QR image.
type PaymentArtifact struct {
	Code     string
	ImageURL string
}

// PaymentIntent is the result of a successful order creation
type PaymentIntent struct {
	IntentID    string
	ChargeRef   string
	AmountCents int64
	Artifact    PaymentArtifact
}

// PagarmeService wraps the Pagar.me orders API
type PagarmeService struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// NewPagarmeService creates a gateway client from environment config
func NewPagarmeService() *PagarmeService {
	url := os.Getenv("PAGARME_BASE_URL")
	if url == "" {
		url = "https://api.pagar.me/core/v5"
	}
	return &PagarmeService{
		baseURL:   url,
		secretKey: os.Getenv("PAGARME_SECRET_KEY"),
		client:    &http.Client{Timeout: 8 * time.Second},
	}
}

type orderItem struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

type orderPhone struct {
	CountryCode string `json:"country_code"`
	Number      string `json:"number"`
	AreaCode    string `json:"area_code"`
}

type orderCustomer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Type     string `json:"type"`
	Document string `json:"document"`
	Phones   struct {
		MobilePhone orderPhone `json:"mobile_phone"`
	} `json:"phones"`
}

type orderPayment struct {
	PaymentMethod string `json:"payment_method"`
	Pix           struct {
		ExpiresIn int `json:"expires_in"`
	} `json:"pix"`
}

type orderRequest struct {
	Items    []orderItem    `json:"items"`
	Customer orderCustomer  `json:"customer"`
	Payments []orderPayment `json:"payments"`
}

type orderResponse struct {
	ID      string `json:"id"`
	Charges []struct {
		ID              string `json:"id"`
		LastTransaction *struct {
			QRCode    string `json:"qr_code"`
			QRCodeURL string `json:"qr_code_url"`
		} `json:"last_transaction"`
	} `json:"charges"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ToMinorUnits converts a decimal currency amount to integer minor
// units, rounding half-up. Parsing is exact, so "9.905" becomes 991.
func ToMinorUnits(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, &InvalidAmountError{Input: amount}
	}
	if d.Sign() <= 0 {
		return 0, &InvalidAmountError{Input: amount}
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

func (s *PagarmeService) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s.secretKey+":"))
}

// CreateIntent creates a PIX payment intent for the given amount. A
// fresh idempotency token is generated per call, guarding against
// transport-level retries only; callers are responsible for not
// invoking this twice for the same logical purchase.
func (s *PagarmeService) CreateIntent(ctx context.Context, amount string, buyer BuyerInfo) (*PaymentIntent, error) {
	cents, err := ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}

	body := orderRequest{
		Items: []orderItem{
			{Amount: cents, Description: "Pagamento", Quantity: 1},
		},
		Payments: []orderPayment{
			{PaymentMethod: "pix"},
		},
	}
	body.Customer = orderCustomer{
		Name:     buyer.Name,
		Email:    buyer.Email,
		Type:     "individual",
		Document: buyer.Document,
	}
	body.Customer.Phones.MobilePhone = orderPhone{CountryCode: "55", Number: "22180513", AreaCode: "11"}
	body.Payments[0].Pix.ExpiresIn = pixExpirySeconds

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/orders", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.authHeader())
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &GatewayRequestError{Op: "create order", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &GatewayRequestError{
			Op:  "create order",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, &GatewayResponseError{Reason: fmt.Sprintf("decode: %v", err)}
	}

	if len(order.Charges) == 0 || order.Charges[0].LastTransaction == nil {
		return nil, &GatewayResponseError{Reason: "order has no resolvable transaction"}
	}
	tx := order.Charges[0].LastTransaction
	if tx.QRCode == "" || tx.QRCodeURL == "" {
		return nil, &GatewayResponseError{Reason: "transaction is missing the PIX code or QR image"}
	}

	return &PaymentIntent{
		IntentID:    order.ID,
		ChargeRef:   order.Charges[0].ID,
		AmountCents: cents,
		Artifact: PaymentArtifact{
			Code:     tx.QRCode,
			ImageURL: tx.QRCodeURL,
		},
	}, nil
}

// ChargeStatus fetches the settlement status of a charge. On transport
// failure it returns StatusUnknown alongside the error; callers must
// retry later rather than treat the charge as failed.
func (s *PagarmeService) ChargeStatus(ctx context.Context, chargeRef string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/charges/"+chargeRef, nil)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.authHeader())

	resp, err := s.client.Do(req)
	if err != nil {
		return StatusUnknown, &GatewayRequestError{Op: "charge status", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return StatusUnknown, &GatewayRequestError{
			Op:  "charge status",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var charge chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return StatusUnknown, &GatewayResponseError{Reason: fmt.Sprintf("decode: %v", err)}
	}

	return normalizeChargeStatus(charge.Status), nil
}

// normalizeChargeStatus maps gateway status strings onto the four
// values the orchestrator understands
func normalizeChargeStatus(raw string) string {
	switch raw {
	case "paid":
		return StatusPaid
	case "pending", "processing", "waiting_payment":
		return StatusPending
	case "failed", "canceled", "expired", "overpaid", "underpaid":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
