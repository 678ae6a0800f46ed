// Package paypal receives PayPal Instant Payment Notifications and fires the
// paypal event for verified payments.
package paypal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Event is the event fired for a verified payment.
const Event = "paypal"

// Verification endpoints.
const (
	LiveVerifyURL    = "https://ipnpb.paypal.com/cgi-bin/webscr"
	SandboxVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
)

const (
	txnSendMoney = "send_money"
	verified     = "VERIFIED"
	maxBodyBytes = 64 << 10
)

// Firer is the part of the action queue the notifier drives.
type Firer interface {
	FireEvent(name string, opts actions.FireOptions) bool
}

// Payment is the subset of an IPN message the bot uses.
type Payment struct {
	TxnID    string
	TxnType  string
	Amount   float64
	Currency string
	Payer    string
	Memo     string
}

// ParsePayment reads the fields of an IPN form body.
func ParsePayment(form url.Values) (Payment, error) {
	p := Payment{
		TxnID:    form.Get("txn_id"),
		TxnType:  form.Get("txn_type"),
		Currency: form.Get("mc_currency"),
		Memo:     form.Get("memo"),
		Payer:    strings.TrimSpace(form.Get("first_name") + " " + form.Get("last_name")),
	}
	if gross := form.Get("mc_gross"); gross != "" {
		amount, err := strconv.ParseFloat(gross, 64)
		if err != nil {
			return p, fmt.Errorf("invalid mc_gross %q: %w", gross, err)
		}
		p.Amount = amount
	}
	return p, nil
}

// Notifier handles the IPN listener endpoint.
type Notifier struct {
	queue     Firer
	verifyURL string
	http      *http.Client
	logger    zerolog.Logger
}

// NewNotifier creates a notifier. An empty verifyURL uses LiveVerifyURL.
func NewNotifier(queue Firer, verifyURL string, httpClient *http.Client) *Notifier {
	if verifyURL == "" {
		verifyURL = LiveVerifyURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		queue:     queue,
		verifyURL: verifyURL,
		http:      httpClient,
		logger:    logging.Component("paypal"),
	}
}

// Handle is the gin handler. PayPal only needs a 200; processing failures
// are logged.
func (n *Notifier) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if _, err := n.Process(c.Request.Context(), body); err != nil {
		n.logger.Warn().Err(err).Msg("ipn not processed")
	}
	c.Status(http.StatusOK)
}

// Process verifies a raw IPN body and fires the paypal event. It reports
// whether an event was fired.
func (n *Notifier) Process(ctx context.Context, body []byte) (bool, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false, fmt.Errorf("parse ipn body: %w", err)
	}
	if err := n.verify(ctx, body); err != nil {
		return false, err
	}

	payment, err := ParsePayment(form)
	if err != nil {
		return false, err
	}
	log := n.logger.With().Str("txn_id", payment.TxnID).Str("txn_type", payment.TxnType).Logger()
	if payment.TxnType != txnSendMoney {
		log.Debug().Msg("ignoring ipn")
		return false, nil
	}

	log.Info().Float64("amount", payment.Amount).Str("currency", payment.Currency).Msg("payment received")
	fired := n.queue.FireEvent(Event, actions.FireOptions{
		Number: actions.Num(payment.Amount),
		Context: map[string]any{
			"user":     payment.Payer,
			"currency": payment.Currency,
			"message":  payment.Memo,
		},
	})
	return fired, nil
}

// verify posts the message back prefixed with cmd=_notify-validate.
func (n *Notifier) verify(ctx context.Context, body []byte) error {
	payload := append([]byte("cmd=_notify-validate&"), body...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "fitzbot-ipn")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify ipn: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify ipn: %s", resp.Status)
	}
	if strings.TrimSpace(string(reply)) != verified {
		return fmt.Errorf("verify ipn: got %q", strings.TrimSpace(string(reply)))
	}
	return nil
}
