package authservice

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/twinj/uuid"
)

type AccessToken struct {
	UUID string
	Hash string
}

type Tokenizer interface {
	Generate(userID uint64, username string) (*AccessToken, error)
}

type tokenizer struct {
	secret []byte
	expiry time.Duration
}

func NewTokenizer(secret []byte, expiry time.Duration) Tokenizer {
	if expiry <= 0 {
		expiry = DefaultAccessTokenExpiry
	}
	return &tokenizer{secret: secret, expiry: expiry}
}

var (
	uuidV4 = uuid.NewV4
	now    = time.Now
)

func (t *tokenizer) Generate(userID uint64, username string) (*AccessToken, error) {
	id := uuidV4().String()
	expiry := now().Add(t.expiry).Unix()

	claims := jwt.MapClaims{
		"uuid":     id,
		"user_id":  userID,
		"username": username,
		"exp":      expiry,
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	hash, err := tk.SignedString(t.secret)
	if err != nil {
		return nil, err
	}

	return &AccessToken{id, hash}, nil
}

const DefaultAccessTokenExpiry = time.Hour
