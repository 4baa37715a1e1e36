package usecase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry читает exp без проверки подписи
func tokenExpiry(token string) (time.Time, bool) {
	claims := new(jwt.RegisteredClaims)

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}

// renewDelay - когда продлевать медиа-токен: за lead до истечения, но не раньше чем сейчас
func renewDelay(token string, lead time.Duration, now time.Time) (time.Duration, bool) {
	exp, ok := tokenExpiry(token)
	if !ok {
		return 0, false
	}

	d := exp.Sub(now) - lead
	if d < 0 {
		d = 0
	}

	return d, true
}
