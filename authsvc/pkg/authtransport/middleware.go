package authtransport

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	stdjwt "github.com/dgrijalva/jwt-go"
	kitjwt "github.com/go-kit/kit/auth/jwt"
	"github.com/go-kit/kit/endpoint"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/usersvc"
	"github.com/ichigozero/tasktracker/usersvc/pkg/userservice"
)

// NewBearerAuth verifies the HS256 bearer token placed in the context by
// kitjwt.HTTPToContext and resolves the caller before next runs.
func NewBearerAuth(secret []byte, users userservice.Service) endpoint.Middleware {
	return endpoint.Chain(
		kitjwt.NewParser(authsvc.KeyFunc(secret), stdjwt.SigningMethodHS256, kitjwt.MapClaimsFactory),
		NewAuthenticater(users),
	)
}

// NewAuthenticater turns parsed token claims into authsvc.Claims. The user
// named by the token must still exist.
func NewAuthenticater(users userservice.Service) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (response interface{}, err error) {
			claims, ok := ctx.Value(kitjwt.JWTClaimsContextKey).(stdjwt.MapClaims)
			if !ok {
				return nil, authsvc.ErrClaimsMissing
			}

			uuid, ok := claims["uuid"].(string)
			if !ok || uuid == "" {
				return nil, authsvc.ErrClaimsInvalid
			}

			username, ok := claims["username"].(string)
			if !ok || username == "" {
				return nil, authsvc.ErrClaimsInvalid
			}

			userID, err := strconv.ParseUint(fmt.Sprintf("%.f", claims["user_id"]), 10, 64)
			if err != nil || userID == 0 {
				return nil, authsvc.ErrClaimsInvalid
			}

			_, err = users.IsExists(ctx, userID, username)
			if errors.Is(err, usersvc.ErrUserNotFound) {
				return nil, authsvc.ErrUnauthorized
			}
			if err != nil {
				return nil, err
			}

			ctx = authsvc.NewContext(ctx, authsvc.Claims{
				AccessUUID: uuid,
				UserID:     userID,
				Username:   username,
			})

			return next(ctx, request)
		}
	}
}
