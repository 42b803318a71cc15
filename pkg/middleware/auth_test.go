package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aiqsync/datasync/internal/sessions"
	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier implements Verifier
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	switch raw {
	case "goodtoken":
		return &fakeToken{data: map[string]interface{}{"sub": "user1", "email": "test@example.com"}}, nil
	case "appeartoken":
		return &fakeToken{data: map[string]interface{}{"sub": "user1", "org": "appear", "iat": float64(1700000000)}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	g := gin.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rw := httptest.NewRecorder()

	g.GET("/", AuthMiddleware(&fakeVerifier{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	g.ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	g := gin.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BadHeader")
	rw := httptest.NewRecorder()

	g.GET("/", AuthMiddleware(&fakeVerifier{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	g.ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	g := gin.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rw := httptest.NewRecorder()

	g.GET("/", AuthMiddleware(&fakeVerifier{}), func(c *gin.Context) {
		claims, ok := c.Get("claims")
		require.True(t, ok)
		resp, _ := json.Marshal(gin.H{"claims": claims})
		c.Writer.Write(resp)
	})
	g.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Contains(t, got, "claims")
}

func TestRequireOrganization(t *testing.T) {
	g := gin.New()
	g.GET("/datasync/:orgName", AuthMiddleware(&fakeVerifier{}), RequireOrganization("orgName"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(token, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rw := httptest.NewRecorder()
		g.ServeHTTP(rw, req)
		return rw.Code
	}
	require.Equal(t, http.StatusOK, do("appeartoken", "/datasync/appear"))
	require.Equal(t, http.StatusForbidden, do("appeartoken", "/datasync/other"))
	// no org claim: platform-wide token
	require.Equal(t, http.StatusOK, do("goodtoken", "/datasync/other"))
}

func TestIssuedAt(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	require.True(t, IssuedAt(c).IsZero())
	c.Set(ClaimsKey, map[string]interface{}{"iat": float64(1700000000)})
	require.Equal(t, time.Unix(1700000000, 0).UTC(), IssuedAt(c))
}

func TestRejectRevoked(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	svc := sessions.NewService(sessions.NewRedisRepository(client, ""), 5*time.Second)

	require.NoError(t, svc.Logout(context.Background(), "appear", "alice"))

	g := gin.New()
	g.GET("/datasync/:orgName", RejectRevoked(svc, "orgName", "X-AIQ-UserId"), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(org, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/datasync/"+org, nil)
		if user != "" {
			req.Header.Set("X-AIQ-UserId", user)
		}
		rw := httptest.NewRecorder()
		g.ServeHTTP(rw, req)
		return rw.Code
	}
	require.Equal(t, http.StatusUnauthorized, do("appear", "alice"))
	require.Equal(t, http.StatusOK, do("appear", "bob"))
	require.Equal(t, http.StatusOK, do("other", "alice"))
	require.Equal(t, http.StatusOK, do("appear", ""))

	// revocation expires with its TTL
	m.FastForward(6 * time.Second)
	require.Equal(t, http.StatusOK, do("appear", "alice"))
}

func TestRejectRevoked_CheckerError(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	svc := sessions.NewService(sessions.NewRedisRepository(client, ""), time.Minute)
	m.Close()

	g := gin.New()
	g.GET("/datasync/:orgName", RejectRevoked(svc, "orgName", "X-AIQ-UserId"), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/datasync/appear", nil)
	req.Header.Set("X-AIQ-UserId", "alice")
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	require.Equal(t, http.StatusInternalServerError, rw.Code)
}
