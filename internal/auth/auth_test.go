package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestIssuer() *Issuer {
	return NewIssuer("fingerattend", "test-key", time.Minute, time.Hour)
}

func TestIssueParse(t *testing.T) {
	iss := newTestIssuer()
	pair, err := iss.Issue("door-1", RoleDevice)
	require.NoError(t, err)

	claims, err := iss.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "door-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = iss.Parse(pair.RefreshToken)
	assert.Error(t, err, "refresh tokens are not access tokens")

	other := NewIssuer("someone-else", "test-key", time.Minute, time.Hour)
	_, err = other.Parse(pair.AccessToken)
	assert.Error(t, err)

	wrongKey := NewIssuer("fingerattend", "other-key", time.Minute, time.Hour)
	_, err = wrongKey.Parse(pair.AccessToken)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	iss := newTestIssuer()
	pair, err := iss.Issue("door-1", RoleDevice)
	require.NoError(t, err)

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = iss.Parse(pair.AccessToken)
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	iss := newTestIssuer()
	pair, err := iss.Issue("door-1", RoleDevice)
	require.NoError(t, err)

	next, err := iss.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)

	_, err = iss.Refresh(pair.AccessToken)
	assert.Error(t, err)
}

func serve(r *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestMiddleware(t *testing.T) {
	iss := newTestIssuer()
	device, err := iss.Issue("door-1", RoleDevice)
	require.NoError(t, err)
	admin, err := iss.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/x", Authenticate(iss, "static-admin"), RequireRole(RoleAdmin), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "garbage"))
	assert.Equal(t, http.StatusForbidden, serve(r, device.AccessToken))
	assert.Equal(t, http.StatusOK, serve(r, admin.AccessToken))
	assert.Equal(t, http.StatusOK, serve(r, "static-admin"))
}

func TestMiddleware_NoAdminToken(t *testing.T) {
	r := gin.New()
	r.GET("/x", Authenticate(newTestIssuer(), ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(r, ""))
}
