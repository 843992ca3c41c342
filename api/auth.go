package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/remittance/access"
)

const principalKey = "remittance.principal"

// AuthConfig configures bearer token verification. Tokens must be HS256,
// carry an expiry and name the caller in the sub claim.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// Authenticate verifies the bearer token and stores its subject as the
// calling principal.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			unauthenticated(c, "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			if len(cfg.Secret) == 0 {
				return nil, errors.New("no signing secret configured")
			}
			return cfg.Secret, nil
		})
		if err != nil {
			unauthenticated(c, "invalid token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			unauthenticated(c, "token has no subject")
			return
		}

		c.Set(principalKey, access.Principal(claims.Subject))
		c.Next()
	}
}

// Principal returns the caller set by Authenticate.
func Principal(c *gin.Context) access.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(access.Principal)
	return principal
}

func unauthenticated(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="remittance"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{
		Code:    "Unauthenticated",
		Message: msg,
	}})
}
