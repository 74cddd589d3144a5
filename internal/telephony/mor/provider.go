// Package mor integrates with the MOR billing API. Outbound calls use
// callback_init: MOR dials the customer first, then bridges the answered
// leg to our SIP device running the voice agent.
package mor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/voiceagent/internal/config"
	"github.com/acme/voiceagent/internal/telephony"
	"github.com/acme/voiceagent/pkg/logger"
)

// ProviderName keys this provider in the registry and its breaker.
const ProviderName = "mor"

// Provider implements telephony.Provider against a MOR server.
type Provider struct {
	username  string
	apiKey    string
	deviceID  string
	serverURL string
	aiNumber  string
	client    *http.Client
	logger    *logger.Logger
}

// NewProvider constructs the MOR provider.
func NewProvider(cfg config.MORConfig, requestTimeout time.Duration, lg *logger.Logger) *Provider {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Provider{
		username:  cfg.Username,
		apiKey:    cfg.APIKey,
		deviceID:  cfg.DeviceID,
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		aiNumber:  cfg.AINumber,
		client:    &http.Client{Timeout: requestTimeout},
		logger:    lg.With(zap.String("provider", ProviderName)),
	}
}

// Name implements telephony.Provider.
func (p *Provider) Name() string { return ProviderName }

// InitiateCall places a callback_init request.
//
// Parameter mapping: the customer number becomes src (MOR dials it first),
// our SIP device number becomes dst, and the campaign's from number is the
// caller id shown to the customer. The request hash is
// SHA1(device + dst + src + apiKey).
func (p *Provider) InitiateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallInfo, error) {
	params := url.Values{
		"u":                 {p.username},
		"device":            {p.deviceID},
		"src":               {req.ToNumber},
		"dst":               {p.aiNumber},
		"cli_lega":          {req.FromNumber},
		"cli_legb":          {req.ToNumber},
		"callback_uniqueid": {"1"},
		"hash":              {p.requestHash(req.ToNumber)},
	}

	p.logger.Info("initiating callback",
		zap.String("src", req.ToNumber),
		zap.String("dst", p.aiNumber),
		zap.String("device", p.deviceID),
	)

	endpoint := p.serverURL + "/callback_init?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return telephony.CallInfo{}, fmt.Errorf("mor: build request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return telephony.CallInfo{}, fmt.Errorf("mor: callback_init: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return telephony.CallInfo{}, fmt.Errorf("mor: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return telephony.CallInfo{}, fmt.Errorf("mor: callback_init status %d", resp.StatusCode)
	}

	var parsed callbackResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return telephony.CallInfo{}, fmt.Errorf("mor: parse response: %w", err)
	}

	if !strings.EqualFold(parsed.Status, "ok") {
		p.logger.Error("callback_init failed", zap.String("status", parsed.Status))
		return telephony.CallInfo{}, fmt.Errorf("mor: callback_init failed: %s", parsed.Status)
	}

	callID := parsed.CallbackUniqueID
	if callID == "" {
		callID = parsed.UniqueID
	}
	if callID == "" {
		return telephony.CallInfo{}, fmt.Errorf("mor: response missing callback id")
	}

	return telephony.CallInfo{CallID: callID, Status: telephony.CallStatusInitiated}, nil
}

func (p *Provider) requestHash(toNumber string) string {
	sum := sha1.Sum([]byte(p.deviceID + p.aiNumber + toNumber + p.apiKey))
	return hex.EncodeToString(sum[:])
}

type callbackResponse struct {
	XMLName          xml.Name `xml:"response"`
	Status           string   `xml:"status"`
	CallbackUniqueID string   `xml:"callback_uniqueid"`
	UniqueID         string   `xml:"uniqueid"`
}
