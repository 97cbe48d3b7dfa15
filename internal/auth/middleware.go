package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	identityKey    = "auth.identity"
	debugSubHeader = "X-Debug-Sub"
)

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	VerifyToken(token string) (Identity, error)
}

type MiddlewareOptions struct {
	// DevBypass trusts the X-Debug-Sub header when no token is presented.
	// Never enable outside local development.
	DevBypass bool
	// AllowQueryToken accepts ?token= for clients that cannot set headers,
	// such as browser WebSockets.
	AllowQueryToken bool
}

// Middleware rejects unauthenticated requests with 401 before any handler
// writes to the response.
func Middleware(verifier Verifier, opts MiddlewareOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && opts.AllowQueryToken {
			token = strings.TrimSpace(c.Query("token"))
		}

		if token == "" {
			if sub := strings.TrimSpace(c.GetHeader(debugSubHeader)); opts.DevBypass && sub != "" {
				c.Set(identityKey, Identity{Subject: sub, Name: sub})
				c.Next()
				return
			}
			abortUnauthorized(c, ErrMissingToken)
			return
		}

		identity, err := verifier.VerifyToken(token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok && identity.Subject != ""
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"details": err.Error(),
	})
}
