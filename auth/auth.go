package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// The back office is guarded by a single shared password. A successful login
// sets a signed cookie; there are no user accounts.

type ctxKey string

const (
	sessionCookieName = "session"
	backofficeCtxKey  = ctxKey("backoffice")
	sessionValue      = "backoffice"
)

// Secret returns SESSION_SECRET or default dev value.
func Secret() string {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return s
	}
	return "devsessionsecret"
}

func sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(Secret()))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CheckPassword compares the shared back-office password against its bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword derives a bcrypt hash for the shared password (boot-time convenience).
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CreateSession sets a signed cookie marking the caller as back office.
func CreateSession(w http.ResponseWriter) {
	expiry := time.Now().Add(14 * 24 * time.Hour)
	payload := sessionValue + ":" + strconv.FormatInt(expiry.Unix(), 10)
	value := payload + "." + sign(payload)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiry,
	})
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// ParseSession validates the cookie signature and expiry.
func ParseSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	parts := strings.Split(c.Value, ".")
	if len(parts) != 2 {
		return false
	}
	payload, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(sig), []byte(sign(payload))) {
		return false
	}
	fields := strings.Split(payload, ":")
	if len(fields) != 2 || fields[0] != sessionValue {
		return false
	}
	exp, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}
	return true
}

// WithBackoffice marks the context as authenticated back office.
func WithBackoffice(ctx context.Context) context.Context {
	return context.WithValue(ctx, backofficeCtxKey, true)
}

// IsBackoffice reports whether the context passed the session gate.
func IsBackoffice(ctx context.Context) bool {
	v, ok := ctx.Value(backofficeCtxKey).(bool)
	return ok && v
}

// Middleware attaches the back-office flag to the request context if the session is valid.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ParseSession(r) {
			r = r.WithContext(WithBackoffice(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests that did not pass the session gate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsBackoffice(r.Context()) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
