package httpapi

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// JWTConfig configures bearer-token authentication, grounded on the
// teacher's pkg/web/middleware/auth/jwt.go JWTConfig.
type JWTConfig struct {
	SecretKey   []byte
	Issuer      string
	Audience    string
	Leeway      time.Duration
	ClaimsKey   string
	AuthScheme  string
	SkipPaths   map[string]bool
}

// DefaultJWTConfig returns sane defaults; SecretKey must still be set.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Leeway:     30 * time.Second,
		ClaimsKey:  "claims",
		AuthScheme: "Bearer",
		SkipPaths:  map[string]bool{"/healthz": true},
	}
}

type claimsContextKey struct{}

// JWT returns middleware that validates a bearer token on every request
// except SkipPaths, stashing the parsed claims for downstream handlers.
func JWT(config JWTConfig) Middleware {
	if config.AuthScheme == "" {
		config.AuthScheme = "Bearer"
	}
	return func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			if config.SkipPaths[string(ctx.RequestCtx.Path())] {
				return next(ctx)
			}

			header := string(ctx.RequestCtx.Request.Header.Peek("Authorization"))
			prefix := config.AuthScheme + " "
			if !strings.HasPrefix(header, prefix) {
				return ctx.Error(fasthttp.StatusUnauthorized, "unauthorized", "missing bearer token")
			}
			raw := strings.TrimPrefix(header, prefix)

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(
				jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
				jwt.WithLeeway(config.Leeway),
			)
			if config.Issuer != "" {
				jwt.WithIssuer(config.Issuer)(parser)
			}
			if config.Audience != "" {
				jwt.WithAudience(config.Audience)(parser)
			}

			_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return config.SecretKey, nil
			})
			if err != nil {
				return ctx.Error(fasthttp.StatusUnauthorized, "unauthorized", err.Error())
			}

			ctx.RequestCtx.SetUserValue(config.ClaimsKey, claims)
			return next(ctx)
		}
	}
}

// GetClaims retrieves the claims stashed by JWT middleware under claimsKey.
func GetClaims(ctx *RequestContext, claimsKey string) (jwt.MapClaims, bool) {
	v := ctx.RequestCtx.UserValue(claimsKey)
	claims, ok := v.(jwt.MapClaims)
	return claims, ok
}
