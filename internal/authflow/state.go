// ABOUTME: Opaque state carried through the upstream provider redirect
// ABOUTME: Base64url-encoded JSON of the client's authorization request

package authflow

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidState indicates a state value that does not decode to a request.
var ErrInvalidState = errors.New("invalid state")

// maxStateLen bounds the encoded state accepted from the network.
const maxStateLen = 8 << 10

// EncodeState serializes req for the upstream state parameter.
func EncodeState(req *AuthRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// upstreamState is the request plus a nonce that is fresh for every redirect
// to the provider. The replay guard keys on the encoded value, so identical
// client requests from separate logins must not collide.
type upstreamState struct {
	*AuthRequest
	Nonce string `json:"nonce"`
}

// encodeUpstreamState serializes req with a new nonce. DecodeState ignores
// the nonce.
func encodeUpstreamState(req *AuthRequest) (string, error) {
	raw, err := json.Marshal(upstreamState{AuthRequest: req, Nonce: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState parses a state value produced by EncodeState. Padded and
// standard base64 are accepted too.
func DecodeState(s string) (*AuthRequest, error) {
	if s == "" || len(s) > maxStateLen {
		return nil, ErrInvalidState
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	var req AuthRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client id", ErrInvalidState)
	}
	return &req, nil
}
