package rest_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thc1967/codex-quest-manager-sub000/api/rest"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"github.com/thc1967/codex-quest-manager-sub000/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSec = config.SecurityConfig{
	JWTSecret: "test-secret",
	JWTTTLH:   72 * time.Hour,
}

func newAuthRouter(t *testing.T, directors ...string) *gin.Engine {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	h := rest.NewAuthHandler(db, c, testSec, directors, nil)
	r := gin.New()
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", mw.Auth(testSec, c, false), h.Logout)
	r.POST("/api/auth/refresh", mw.Auth(testSec, c, false), h.Refresh)
	return r
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return doJSON(r, http.MethodPost, path, body, headers...)
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestLoginAutoRegister(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "pass1234",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
	assert.NotZero(t, resp["account_id"])
	assert.Equal(t, false, resp["director"])
}

func TestLoginWrongPassword(t *testing.T) {
	r := newAuthRouter(t)

	postJSON(r, "/api/auth/login", map[string]string{"username": "bob", "password": "correct"})

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "bob", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginBadRequest(t *testing.T) {
	r := newAuthRouter(t)
	w := postJSON(r, "/api/auth/login", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginSecondTime(t *testing.T) {
	r := newAuthRouter(t)

	w1 := postJSON(r, "/api/auth/login", map[string]string{"username": "carol", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := postJSON(r, "/api/auth/login", map[string]string{"username": "carol", "password": "pass1234"})
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, decode(t, w1)["account_id"], decode(t, w2)["account_id"])
}

func TestLoginPromotesDirector(t *testing.T) {
	r := newAuthRouter(t, "gm")

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "gm", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["director"])

	claims, err := mw.ParseToken(resp["token"].(string), testSec.JWTSecret)
	require.NoError(t, err)
	assert.True(t, claims.Director)
}

func TestLoginPromotionNotPersisted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	core, logs := observer.New(zapcore.WarnLevel)
	h := rest.NewAuthHandler(db, c, testSec, []string{"gm"}, zap.New(core))
	r := gin.New()
	r.POST("/api/auth/login", h.Login)

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("disk full"))
	}))

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "gm", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["director"])

	claims, err := mw.ParseToken(resp["token"].(string), testSec.JWTSecret)
	require.NoError(t, err)
	assert.False(t, claims.Director, "token matches the stored role")

	var acc model.Account
	require.NoError(t, db.Where("username = ?", "gm").First(&acc).Error)
	assert.Equal(t, model.RolePlayer, acc.Role)

	entries := logs.FilterMessage("login bookkeeping failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].ContextMap()["promote"])
}

func TestLogout(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "dave", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(string)

	w2 := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w2.Code)

	// Session removed.
	w3 := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w3.Code)
}

func TestRefresh(t *testing.T) {
	r := newAuthRouter(t)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "refreshuser", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(string)

	w2 := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w2.Code)
	newToken := decode(t, w2)["token"].(string)
	assert.NotEmpty(t, newToken)

	// The old session is gone; the new one works.
	w3 := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w3.Code)
	w4 := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+newToken)
	assert.Equal(t, http.StatusOK, w4.Code)
}

func TestRefresh_NoToken(t *testing.T) {
	r := newAuthRouter(t)
	w := postJSON(r, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginBannedAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	h := rest.NewAuthHandler(db, c, testSec, nil, nil)
	r := gin.New()
	r.POST("/api/auth/login", h.Login)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "bannedacc", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)

	db.Model(&model.Account{}).Where("username = ?", "bannedacc").Update("status", 0)

	w2 := postJSON(r, "/api/auth/login", map[string]string{"username": "bannedacc", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w2.Code)
}
