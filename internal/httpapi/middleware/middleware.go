package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/common"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
	UserIDKey       = "user_id"
	UserNameKey     = "user_name"
)

// RequestID assigns a request id when the caller did not send one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

// Recovery converts panics into 500 envelopes instead of dropped
// connections.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v (request_id=%v)", r, c.Value(RequestIDKey))
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

type claims struct {
	UserID   string `json:"uid"`
	UserName string `json:"name"`
	jwt.RegisteredClaims
}

func parseToken(c *gin.Context, secret string) (*claims, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, false
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	var cl claims
	token, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	return &cl, true
}

// AuthRequired guards the admin entity mutations. Verification only;
// issuing tokens belongs to the external authentication service.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := parseToken(c, secret)
		if !ok {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		c.Set(UserIDKey, cl.UserID)
		c.Set(UserNameKey, cl.UserName)
		c.Next()
	}
}

// AuthOptional extracts identity when a valid token is present but lets
// anonymous kiosk traffic through.
func AuthOptional(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cl, ok := parseToken(c, secret); ok {
			c.Set(UserIDKey, cl.UserID)
			c.Set(UserNameKey, cl.UserName)
		}
		c.Next()
	}
}
