package federated

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultGoogleTokenInfoURL is the tokeninfo endpoint; the ID token is
// appended as a query value.
const DefaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo?id_token="

const maxTokenInfoBody = 64 << 10

// TokenInfo is the verified claim set of a provider ID token.
type TokenInfo struct {
	Subject       string
	Audience      string
	Issuer        string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	ExpiresAt     int64
}

// Verifier checks an ID token with its issuer.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*TokenInfo, error)
}

// GoogleVerifier verifies Google ID tokens over the tokeninfo endpoint.
type GoogleVerifier struct {
	client   *http.Client
	endpoint string
}

// NewGoogleVerifier returns a verifier with its own HTTP client bounded by
// timeout. An empty endpoint uses [DefaultGoogleTokenInfoURL].
func NewGoogleVerifier(endpoint string, timeout time.Duration) *GoogleVerifier {
	if endpoint == "" {
		endpoint = DefaultGoogleTokenInfoURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleVerifier{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

// tokenInfoResponse mirrors the endpoint's JSON; numeric claims arrive as
// strings.
type tokenInfoResponse struct {
	Sub           string `json:"sub"`
	Aud           string `json:"aud"`
	Iss           string `json:"iss"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Exp           string `json:"exp"`
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+url.QueryEscape(idToken), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenInfoBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrVerification, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	}

	var raw tokenInfoResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if raw.Sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	info := &TokenInfo{
		Subject:       raw.Sub,
		Audience:      raw.Aud,
		Issuer:        raw.Iss,
		Email:         raw.Email,
		EmailVerified: raw.EmailVerified == "true",
		Name:          raw.Name,
		GivenName:     raw.GivenName,
		FamilyName:    raw.FamilyName,
	}
	if raw.Exp != "" {
		exp, err := strconv.ParseInt(raw.Exp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: exp: %v", ErrInvalidToken, err)
		}
		info.ExpiresAt = exp
	}
	return info, nil
}
