// Package mtn integrates the MTN Mobile Money collection API.
package mtn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider/base"
)

type Adapter struct {
	cfg    config.MTNCfg
	client *base.Client
	tokens *provider.TokenSource
}

func New(cfg config.MTNCfg, kv cache.Cache) *Adapter {
	a := &Adapter{
		cfg:    cfg,
		client: base.NewClient("mtn", base.Config{}),
	}
	a.tokens = provider.NewTokenSource(kv, provider.TypeMTN, cfg.APIUser, a.fetchToken)
	return a
}

func (a *Adapter) Type() provider.Type { return provider.TypeMTN }

// RequestPayment initiates a request-to-pay prompt on the customer's phone.
// MTN treats the call as accepted (usually 202); completion arrives via
// webhook or a later status check. The X-Reference-Id UUID becomes the
// provider reference for all later correlation.
func (a *Adapter) RequestPayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentResult, error) {
	referenceID := uuid.NewString()
	idem := provider.NewIdempotencyKey("mtn")

	body := map[string]any{
		"amount":     strconv.FormatInt(req.Amount, 10),
		"currency":   req.Currency,
		"externalId": req.Reference,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     req.Phone,
		},
		"payerMessage": req.Message,
		"payeeNote":    "Thank you",
	}

	extra := map[string]string{
		"X-Reference-Id":    referenceID,
		"X-Callback-Url":    a.cfg.CallbackURL,
		"X-Idempotency-Key": idem,
	}

	log.Info().
		Int64("amount", req.Amount).
		Str("currency", req.Currency).
		Str("reference", req.Reference).
		Msg("mtn: requesting payment")

	resp, err := a.authed(ctx, "POST", a.cfg.BaseURL+"/collection/v1_0/requesttopay", extra, body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		log.Info().Str("provider_ref", referenceID).Msg("mtn: payment initiated")
		return &provider.PaymentResult{ProviderRef: referenceID, Raw: resp.Body}, nil
	default:
		return nil, &provider.ProviderError{
			Provider:   provider.TypeMTN,
			Op:         "request_payment",
			StatusCode: resp.StatusCode,
			Message:    "request-to-pay rejected",
			Payload:    resp.Body,
		}
	}
}

// CheckStatus looks up a request-to-pay by its reference.
func (a *Adapter) CheckStatus(ctx context.Context, providerRef string) (*provider.StatusResult, error) {
	resp, err := a.authed(ctx, "GET", a.cfg.BaseURL+"/collection/v1_0/requesttopay/"+providerRef, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.ProviderError{
			Provider:   provider.TypeMTN,
			Op:         "check_status",
			StatusCode: resp.StatusCode,
			Message:    "status lookup failed",
			Payload:    resp.Body,
		}
	}

	var out struct {
		Status string `json:"status"`
		Reason any    `json:"reason"`
	}
	if err := resp.Decode(&out); err != nil || out.Status == "" {
		return nil, &provider.ProviderError{
			Provider:   provider.TypeMTN,
			Op:         "check_status",
			StatusCode: resp.StatusCode,
			Message:    "status response missing status field",
			Payload:    resp.Body,
		}
	}

	return &provider.StatusResult{Status: MapStatus(out.Status), Raw: resp.Body}, nil
}

// ParseWebhook parses an MTN callback. referenceId is the required
// provider-assigned identity; externalId is our order reference.
func (a *Adapter) ParseWebhook(body []byte) (*provider.Callback, error) {
	var payload struct {
		ExternalID  string `json:"externalId"`
		ReferenceID string `json:"referenceId"`
		Status      string `json:"status"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("mtn webhook: invalid JSON: %w", err)
	}
	if payload.ReferenceID == "" {
		return nil, fmt.Errorf("mtn webhook: missing referenceId")
	}
	return &provider.Callback{
		EventID:     payload.ReferenceID,
		ProviderRef: payload.ReferenceID,
		OrderRef:    payload.ExternalID,
		Status:      MapStatus(payload.Status),
		Reason:      payload.Reason,
	}, nil
}

// MapStatus maps MTN's status vocabulary to the internal three states.
// Unknown codes map to pending, never to successful.
func MapStatus(s string) provider.Status {
	switch strings.ToUpper(s) {
	case "SUCCESSFUL":
		return provider.StatusSuccessful
	case "FAILED":
		return provider.StatusFailed
	case "PENDING":
		return provider.StatusPending
	default:
		return provider.StatusPending
	}
}

// authed performs a bearer-authenticated call, refreshing the token once if
// the provider rejects it.
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
	h := map[string]string{
		"Ocp-Apim-Subscription-Key": a.cfg.SubscriptionKey,
		"X-Target-Environment":      a.cfg.TargetEnv,
		"Authorization":             "Bearer " + token,
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (a *Adapter) fetchToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(a.cfg.APIUser + ":" + a.cfg.APIKey))
	resp, err := a.client.Do(ctx, "POST", a.cfg.BaseURL+"/collection/token/", map[string]string{
		"Ocp-Apim-Subscription-Key": a.cfg.SubscriptionKey,
		"Authorization":             "Basic " + auth,
	}, nil)
	if err != nil {
		return "", &provider.AuthError{Provider: provider.TypeMTN, Message: "token endpoint call failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &provider.AuthError{
			Provider: provider.TypeMTN,
			Message:  fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode),
		}
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&out); err != nil || out.AccessToken == "" {
		return "", &provider.AuthError{Provider: provider.TypeMTN, Message: "token response missing access_token"}
	}
	return out.AccessToken, nil
}
