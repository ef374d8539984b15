package authsvc

import (
	"context"
	"errors"

	stdjwt "github.com/dgrijalva/jwt-go"
)

// Claims is the identity carried by a verified access token.
type Claims struct {
	AccessUUID string
	UserID     uint64
	Username   string
}

type contextKey string

const ClaimsContextKey contextKey = "Claims"

func NewContext(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, c)
}

func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(Claims)
	return c, ok
}

// KeyFunc returns the jwt.Keyfunc verifying access tokens signed with secret.
func KeyFunc(secret []byte) stdjwt.Keyfunc {
	return func(token *stdjwt.Token) (interface{}, error) {
		return secret, nil
	}
}

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrClaimsMissing      = errors.New("JWT claims was not passed through the context")
	ErrClaimsInvalid      = errors.New("JWT claims was invalid")
)
