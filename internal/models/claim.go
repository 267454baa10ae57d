package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidClaim is returned when a commitment cannot be parsed
var ErrInvalidClaim = errors.New("invalid commit claim")

// Claim links a node to a social account with an ownership proof
type Claim struct {
	Platform           PlatformType `json:"platform"`
	AccountID          string       `json:"account_id,omitempty"`
	Username           string       `json:"username,omitempty"`
	VerificationPostID string       `json:"verification_post_id"`
}

// ParseClaim accepts either a JSON object or the compact
// "platform:username:verification_post_id" form.
func ParseClaim(raw string) (Claim, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claim{}, fmt.Errorf("%w: empty", ErrInvalidClaim)
	}

	var claim Claim
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &claim); err != nil {
			return Claim{}, fmt.Errorf("%w: %v", ErrInvalidClaim, err)
		}
	} else {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return Claim{}, fmt.Errorf("%w: expected platform:username:post_id, got %q", ErrInvalidClaim, raw)
		}
		claim = Claim{
			Platform:           PlatformType(parts[0]),
			Username:           strings.TrimPrefix(parts[1], "@"),
			VerificationPostID: parts[2],
		}
	}

	claim.Platform = PlatformType(strings.ToLower(strings.TrimSpace(string(claim.Platform))))
	if claim.Platform == "" {
		return Claim{}, fmt.Errorf("%w: missing platform", ErrInvalidClaim)
	}
	if claim.AccountID == "" && claim.Username == "" {
		return Claim{}, fmt.Errorf("%w: account_id or username is required", ErrInvalidClaim)
	}
	if claim.VerificationPostID == "" {
		return Claim{}, fmt.Errorf("%w: missing verification post", ErrInvalidClaim)
	}
	return claim, nil
}

// Identifier returns the most specific account reference in the claim
func (c Claim) Identifier() string {
	if c.Username != "" {
		return c.Username
	}
	return c.AccountID
}
