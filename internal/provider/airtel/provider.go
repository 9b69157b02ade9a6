// Package airtel integrates the Airtel Money merchant payments API.
package airtel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider/base"
)

type Adapter struct {
	cfg    config.AirtelCfg
	client *base.Client
	tokens *provider.TokenSource
}

func New(cfg config.AirtelCfg, kv cache.Cache) *Adapter {
	a := &Adapter{
		cfg:    cfg,
		client: base.NewClient("airtel", base.Config{}),
	}
	a.tokens = provider.NewTokenSource(kv, provider.TypeAirtel, cfg.ClientID, a.fetchToken)
	return a
}

func (a *Adapter) Type() provider.Type { return provider.TypeAirtel }

// RequestPayment initiates a collection. Airtel keys the payment on the
// caller-supplied reference, so that reference is the provider reference
// used for status checks and webhook correlation.
func (a *Adapter) RequestPayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentResult, error) {
	idem := provider.NewIdempotencyKey("airtel")

	body := map[string]any{
		"reference": req.Reference,
		"subscriber": map[string]string{
			"country":  a.cfg.Country,
			"currency": a.cfg.Currency,
			"msisdn":   req.Phone,
		},
		"transaction": map[string]any{
			"amount":   strconv.FormatInt(req.Amount, 10),
			"country":  a.cfg.Country,
			"currency": a.cfg.Currency,
			"id":       req.Reference,
		},
		"narrative": req.Message,
	}
	if a.cfg.CallbackURL != "" {
		body["callback_url"] = a.cfg.CallbackURL
	}

	log.Info().
		Int64("amount", req.Amount).
		Str("currency", a.cfg.Currency).
		Str("reference", req.Reference).
		Msg("airtel: initiating payment")

	resp, err := a.authed(ctx, "POST", a.cfg.BaseURL+"/merchant/v1/payments/", map[string]string{
		"X-Idempotency-Key": idem,
	}, body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		log.Info().Str("provider_ref", req.Reference).Msg("airtel: payment initiated")
		return &provider.PaymentResult{ProviderRef: req.Reference, Raw: resp.Body}, nil
	default:
		return nil, &provider.ProviderError{
			Provider:   provider.TypeAirtel,
			Op:         "request_payment",
			StatusCode: resp.StatusCode,
			Message:    "payment initiation rejected",
			Payload:    resp.Body,
		}
	}
}

func (a *Adapter) CheckStatus(ctx context.Context, providerRef string) (*provider.StatusResult, error) {
	resp, err := a.authed(ctx, "GET", a.cfg.BaseURL+"/merchant/v1/payments/"+providerRef, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.ProviderError{
			Provider:   provider.TypeAirtel,
			Op:         "check_status",
			StatusCode: resp.StatusCode,
			Message:    "status lookup failed",
			Payload:    resp.Body,
		}
	}

	var out struct {
		Status struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
	}
	if err := resp.Decode(&out); err != nil || out.Status.Code == "" {
		return nil, &provider.ProviderError{
			Provider:   provider.TypeAirtel,
			Op:         "check_status",
			StatusCode: resp.StatusCode,
			Message:    "status response missing status code",
			Payload:    resp.Body,
		}
	}

	return &provider.StatusResult{Status: MapStatus(out.Status.Code), Raw: resp.Body}, nil
}

// ParseWebhook parses an Airtel callback. transaction.id is the identity,
// falling back to transaction.reference.
func (a *Adapter) ParseWebhook(body []byte) (*provider.Callback, error) {
	var payload struct {
		Transaction struct {
			ID        string `json:"id"`
			Reference string `json:"reference"`
		} `json:"transaction"`
		Status struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("airtel webhook: invalid JSON: %w", err)
	}

	id := payload.Transaction.ID
	if id == "" {
		id = payload.Transaction.Reference
	}
	if id == "" {
		return nil, fmt.Errorf("airtel webhook: missing transaction id")
	}

	return &provider.Callback{
		EventID:     id,
		ProviderRef: id,
		OrderRef:    payload.Transaction.Reference,
		Status:      MapStatus(payload.Status.Code),
		Reason:      payload.Status.Message,
	}, nil
}

// MapStatus maps Airtel's terse status codes to the internal three states.
// TA (ambiguous) and TIP (in progress) stay pending; unknown codes map to
// pending, never to successful.
func MapStatus(code string) provider.Status {
	switch strings.ToUpper(code) {
	case "TS":
		return provider.StatusSuccessful
	case "TF":
		return provider.StatusFailed
	case "TA", "TIP":
		return provider.StatusPending
	default:
		return provider.StatusPending
	}
}

func (a *Adapter) authed(ctx context.Context, method, url string, extra map[string]string, body any) (*base.Response, error) {
	token, err := a.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, method, url, a.headers(token, extra), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate(ctx)
		token, err = a.tokens.Token(ctx, true)
		if err != nil {
			return nil, err
		}
		resp, err = a.client.Do(ctx, method, url, a.headers(token, extra), body)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (a *Adapter) headers(token string, extra map[string]string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + token}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (a *Adapter) fetchToken(ctx context.Context) (string, error) {
	resp, err := a.client.Do(ctx, "POST", a.cfg.BaseURL+"/auth/oauth2/token", nil, map[string]string{
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", &provider.AuthError{Provider: provider.TypeAirtel, Message: "token endpoint call failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &provider.AuthError{
			Provider: provider.TypeAirtel,
			Message:  fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode),
		}
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&out); err != nil || out.AccessToken == "" {
		return "", &provider.AuthError{Provider: provider.TypeAirtel, Message: "token response missing access_token"}
	}
	return out.AccessToken, nil
}
