package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
)

// Token is a minted token and its expiry.
type Token struct {
	Value   string
	Expires time.Time
}

// TokenDeps wires the token codecs and id generators shared by every flow.
type TokenDeps struct {
	IssueAccess   func(context.Context, jwt.AccessInput) (string, time.Time, error)
	ParseAccess   func(context.Context, string) (*jwt.AccessClaims, error)
	IssueRefresh  func(ctx context.Context, handle, userID, parentHash1 string) (string, time.Time, error)
	DecodeRefresh func(context.Context, string) (*refresh.Info, error)
	Hash          func(string) string
	NewHandle     func() string
	NewUUID       func() string
}

func (d TokenDeps) antiCSRF(enabled bool) string {
	if !enabled {
		return ""
	}
	return d.NewUUID()
}

// casExhausted reports whether another conflict would exceed max. Zero means
// unbounded.
func casExhausted(conflicts, max int) bool {
	return max > 0 && conflicts >= max
}
