package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// authManager obtains and caches the courier session token. Expiry keeps a
// buffer so a token is never used right at its deadline.
type authManager struct {
	tokenURL   string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

func newAuthManager(tokenURL, apiKey, apiSecret string, timeout time.Duration) *authManager {
	return &authManager{
		tokenURL:   tokenURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Token returns a valid session token, logging in if the cache is empty or
// expired.
func (am *authManager) Token(ctx context.Context) (string, error) {
	am.mu.RLock()
	if am.token != "" && time.Now().Before(am.tokenExpiry) {
		tok := am.token
		am.mu.RUnlock()
		return tok, nil
	}
	am.mu.RUnlock()
	return am.login(ctx)
}

// Invalidate drops the cached token so the next call re-authenticates.
func (am *authManager) Invalidate() {
	am.mu.Lock()
	am.token = ""
	am.tokenExpiry = time.Time{}
	am.mu.Unlock()
}

func (am *authManager) login(ctx context.Context) (string, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	// Another caller may have logged in while we waited for the lock.
	if am.token != "" && time.Now().Before(am.tokenExpiry) {
		return am.token, nil
	}

	body, _ := json.Marshal(map[string]string{"api_key": am.apiKey, "api_secret": am.apiSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, am.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransient, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := am.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransient, Message: fmt.Sprintf("token request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := KindAuthExpired
		if resp.StatusCode >= 500 {
			kind = KindTransient
		}
		return "", &Error{Kind: kind, StatusCode: resp.StatusCode, Message: string(b)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.Token == "" {
		return "", &Error{Kind: KindUnparseable, StatusCode: resp.StatusCode, Message: "no token in login response"}
	}

	am.token = tr.Token
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if ttl > 5*time.Minute {
		ttl -= 5 * time.Minute
	}
	am.tokenExpiry = time.Now().Add(ttl)
	return am.token, nil
}
