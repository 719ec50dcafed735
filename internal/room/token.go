package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
)

const (
	roomPlaceholder     = "{room}"
	defaultTokenTTL     = 6 * time.Hour
	maxTokenResponseLen = 64 << 10
)

var ErrNoToken = errors.New("room: no access token")

// TokenSource hands out access tokens for joining a room.
type TokenSource interface {
	Token(ctx context.Context, room string) (string, error)
}

// GuestTokenFetcher asks an HTTP endpoint for a guest token. The URL template
// carries a {room} placeholder and the response body is {"token": "..."}.
type GuestTokenFetcher struct {
	client      *http.Client
	urlTemplate string
}

type guestTokenResponse struct {
	Token string `json:"token"`
}

func NewGuestTokenFetcher(urlTemplate string, client *http.Client) *GuestTokenFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GuestTokenFetcher{client: client, urlTemplate: urlTemplate}
}

func (f *GuestTokenFetcher) Token(ctx context.Context, room string) (string, error) {
	endpoint := strings.ReplaceAll(f.urlTemplate, roomPlaceholder, url.PathEscape(room))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch guest token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch guest token: unexpected status %s", resp.Status)
	}

	var body guestTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseLen)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode guest token: %w", err)
	}
	if body.Token == "" {
		return "", ErrNoToken
	}

	return body.Token, nil
}

// KeyTokenMinter signs hidden recorder tokens with a server API key pair.
type KeyTokenMinter struct {
	apiKey    string
	apiSecret string
	identity  string
	ttl       time.Duration
}

func NewKeyTokenMinter(apiKey, apiSecret, identity string, ttl time.Duration) *KeyTokenMinter {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &KeyTokenMinter{apiKey: apiKey, apiSecret: apiSecret, identity: identity, ttl: ttl}
}

func (m *KeyTokenMinter) Token(_ context.Context, room string) (string, error) {
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
		Hidden:   true,
		Recorder: true,
	}
	grant.SetCanPublish(false)
	grant.SetCanPublishData(false)

	token, err := auth.NewAccessToken(m.apiKey, m.apiSecret).
		AddGrant(grant).
		SetIdentity(m.identity).
		SetValidFor(m.ttl).
		ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign recorder token: %w", err)
	}

	return token, nil
}
