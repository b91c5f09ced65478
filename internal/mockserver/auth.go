package mockserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAPIKey = errors.New("bad key")
	ErrHerotagTaken  = errors.New("herotag already registered")
	ErrInvalidToken  = errors.New("invalid token")
)

// keyring maps herotags to bcrypt hashes of their API keys
type keyring struct {
	cost int

	mu     sync.RWMutex
	hashes map[string][]byte
}

func newKeyring(cost int) *keyring {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &keyring{cost: cost, hashes: make(map[string][]byte)}
}

func (k *keyring) add(herotag, apiKey string) error {
	if herotag == "" || apiKey == "" {
		return errors.New("herotag and api key are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), k.cost)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.hashes[herotag]; exists {
		return ErrHerotagTaken
	}
	k.hashes[herotag] = hash
	return nil
}

// verify checks that apiKey belongs to herotag
func (k *keyring) verify(herotag, apiKey string) error {
	k.mu.RLock()
	hash, ok := k.hashes[herotag]
	k.mu.RUnlock()
	if !ok {
		return ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// lookup finds the herotag owning apiKey
func (k *keyring) lookup(apiKey string) (string, error) {
	k.mu.RLock()
	candidates := make(map[string][]byte, len(k.hashes))
	for herotag, hash := range k.hashes {
		candidates[herotag] = hash
	}
	k.mu.RUnlock()

	for herotag, hash := range candidates {
		if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil {
			return herotag, nil
		}
	}
	return "", ErrInvalidAPIKey
}

// tokens issues and validates the HS256 bearer tokens of the admin endpoints
type tokens struct {
	secret []byte
	expiry time.Duration
}

func (t *tokens) issue(subject string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(t.expiry).Unix(),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// validate returns the token subject
func (t *tokens) validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
