// Package middleware содержит HTTP middleware сервиса агентского баланса.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/agency-ledger/internal/model"
)

type contextKey string

const callerKey contextKey = "caller"

// ErrInvalidToken возвращается, если токен не прошёл проверку.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims описывает содержимое bearer-токена: в sub лежит идентификатор агентства, в role его роль.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токен и кладёт инициатора запроса в контекст.
// Токены выпускает внешний сервис входа, здесь они только проверяются.
type AuthMiddleware struct {
	secretKey []byte
}

// randRead подменяется в тестах.
var randRead = rand.Read

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным: такие токены не примет ни один клиент.
// Если случайный ключ получить не удалось, функция паникует.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := randRead(key); err != nil {
			panic(fmt.Sprintf("generate random token key: %v", err))
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет инициатора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, err := a.Validate(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Validate разбирает и проверяет токен, возвращая инициатора запроса.
func (a *AuthMiddleware) Validate(tokenString string) (model.Caller, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secretKey, nil
		},
	)
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return model.Caller{}, ErrInvalidToken
	}

	role := model.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return model.Caller{}, fmt.Errorf("%w: missing subject or unknown role", ErrInvalidToken)
	}

	return model.Caller{ID: claims.Subject, Role: role}, nil
}

// WithCaller возвращает контекст с инициатором запроса.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext извлекает инициатора запроса из контекста.
func CallerFromContext(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(model.Caller)
	return caller, ok
}
