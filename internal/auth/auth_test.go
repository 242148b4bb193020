package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://sso.example.com/realms/qms"

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestValidator 使用内存 JWKS 创建验证器
func newTestValidator(t *testing.T) (*auth.KeycloakTokenValidator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(jwks)
	require.NoError(t, err)

	k, err := keyfunc.NewJWKSetJSON(raw)
	require.NoError(t, err)
	return auth.NewKeycloakTokenValidatorWithKeyfunc(testIssuer, k), key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims *auth.KeycloakClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(subject string) *auth.KeycloakClaims {
	claims := &auth.KeycloakClaims{PreferredUsername: subject, Email: subject + "@example.com"}
	claims.Subject = subject
	claims.Issuer = testIssuer
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	claims.IssuedAt = jwt.NewNumericDate(time.Now())
	return claims
}

// TestKeycloakTokenValidator_ValidateToken 测试 Token 校验
func TestKeycloakTokenValidator_ValidateToken(t *testing.T) {
	validator, key := newTestValidator(t)
	assert.Equal(t, testIssuer, validator.Issuer())

	claims, err := validator.ValidateToken(signToken(t, key, validClaims("alice")))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)

	// 签发者不匹配
	wrongIssuer := validClaims("alice")
	wrongIssuer.Issuer = "https://evil.example.com"
	_, err = validator.ValidateToken(signToken(t, key, wrongIssuer))
	assert.Error(t, err)

	// 已过期
	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = validator.ValidateToken(signToken(t, key, expired))
	assert.Error(t, err)

	// 缺少过期时间
	noExpiry := validClaims("alice")
	noExpiry.ExpiresAt = nil
	_, err = validator.ValidateToken(signToken(t, key, noExpiry))
	assert.Error(t, err)

	// 缺少 subject
	_, err = validator.ValidateToken(signToken(t, key, validClaims("")))
	assert.Error(t, err)

	// 其他密钥签名
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = validator.ValidateToken(signToken(t, other, validClaims("alice")))
	assert.Error(t, err)
}

// TestNewKeycloakTokenValidator_RequiresIssuer 测试缺少 issuer
func TestNewKeycloakTokenValidator_RequiresIssuer(t *testing.T) {
	_, err := auth.NewKeycloakTokenValidator("", "")
	assert.Error(t, err)
}

// TestActorResolver_Resolve 测试操作人解析
func TestActorResolver_Resolve(t *testing.T) {
	validator, key := newTestValidator(t)
	token := signToken(t, key, validClaims("alice"))

	tests := []struct {
		name      string
		resolver  *auth.ActorResolver
		header    map[string]string
		query     string
		wantActor string
		wantErr   error
	}{
		{
			name:      "bearer token",
			resolver:  auth.NewActorResolver(validator, false),
			header:    map[string]string{"Authorization": "Bearer " + token},
			wantActor: "alice",
		},
		{
			name:      "token query parameter",
			resolver:  auth.NewActorResolver(validator, false),
			query:     "?token=" + token,
			wantActor: "alice",
		},
		{
			name:      "token wins over dev header",
			resolver:  auth.NewActorResolver(validator, true),
			header:    map[string]string{"Authorization": "Bearer " + token, auth.HeaderActorID: "mallory"},
			wantActor: "alice",
		},
		{
			name:      "dev header",
			resolver:  auth.NewActorResolver(nil, true),
			header:    map[string]string{auth.HeaderActorID: " bob "},
			wantActor: "bob",
		},
		{
			name:     "dev header disabled",
			resolver: auth.NewActorResolver(validator, false),
			header:   map[string]string{auth.HeaderActorID: "bob"},
			wantErr:  auth.ErrNoIdentity,
		},
		{
			name:     "no identity",
			resolver: auth.NewActorResolver(nil, true),
			wantErr:  auth.ErrNoIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/records"+tt.query, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			claims, err := tt.resolver.Resolve(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantActor, claims.Subject)
		})
	}
}

// TestActorResolver_TokenWithoutValidator 测试未配置验证器时拒绝 Token
func TestActorResolver_TokenWithoutValidator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	_, err := auth.NewActorResolver(nil, true).Resolve(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrNoIdentity)
}

// TestActorResolver_Middleware 测试认证中间件
func TestActorResolver_Middleware(t *testing.T) {
	router := gin.New()
	router.Use(auth.NewActorResolver(nil, true).Middleware())
	router.GET("/whoami", func(c *gin.Context) {
		actor, ok := auth.ActorID(c)
		require.True(t, ok)
		c.String(http.StatusOK, actor)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(auth.HeaderActorID, "carol")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestKeycloakAuthMiddleware 测试 JWT 认证中间件
func TestKeycloakAuthMiddleware(t *testing.T) {
	validator, key := newTestValidator(t)
	router := gin.New()
	router.Use(auth.KeycloakAuthMiddleware(validator))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("email"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims("dave")))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dave@example.com", w.Body.String())
}

// countingAuthorizer 统计调用次数的授权器
type countingAuthorizer struct {
	mu      sync.Mutex
	allowed map[string]bool
	checks  int
	err     error
}

func (a *countingAuthorizer) CheckPermission(_ context.Context, userID, relation, objectType, objectID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks++
	if a.err != nil {
		return false, a.err
	}
	return a.allowed[userID+"|"+relation+"|"+objectType+":"+objectID], nil
}

func (a *countingAuthorizer) SetRelation(_ context.Context, userID, relation, objectType, objectID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[userID+"|"+relation+"|"+objectType+":"+objectID] = true
	return nil
}

func (a *countingAuthorizer) DeleteRelation(_ context.Context, userID, relation, objectType, objectID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, userID+"|"+relation+"|"+objectType+":"+objectID)
	return nil
}

// TestPermissionCache 测试权限缓存的读写和过期
func TestPermissionCache(t *testing.T) {
	cache := auth.NewPermissionCache(0, 50*time.Millisecond)
	cache.Set("user:alice:viewer:record:SOP-2025-001", true)

	value, found := cache.Get("user:alice:viewer:record:SOP-2025-001")
	assert.True(t, found)
	assert.True(t, value)
	assert.Equal(t, 1, cache.Len())

	_, found = cache.Get("user:bob:viewer:record:SOP-2025-001")
	assert.False(t, found)

	assert.Eventually(t, func() bool {
		_, found := cache.Get("user:alice:viewer:record:SOP-2025-001")
		return !found
	}, time.Second, 10*time.Millisecond)

	cache.Set("a", true)
	cache.Remove("a")
	_, found = cache.Get("a")
	assert.False(t, found)

	cache.Set("b", false)
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

// TestPermissionCache_Evicts 测试超过容量时淘汰
func TestPermissionCache_Evicts(t *testing.T) {
	cache := auth.NewPermissionCache(2, time.Minute)
	cache.Set("a", true)
	cache.Set("b", true)
	cache.Set("c", true)
	assert.Equal(t, 2, cache.Len())
	_, found := cache.Get("a")
	assert.False(t, found)
}

// TestCachedAuthorizer 测试授权结果缓存和关系变更后失效
func TestCachedAuthorizer(t *testing.T) {
	next := &countingAuthorizer{allowed: map[string]bool{}}
	authz := auth.NewCachedAuthorizer(next, auth.NewPermissionCache(0, time.Minute))
	ctx := context.Background()

	allowed, err := authz.CheckPermission(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = authz.CheckPermission(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 1, next.checks)

	// 关系变更后重新查询
	require.NoError(t, authz.SetRelation(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001"))
	allowed, err = authz.CheckPermission(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, next.checks)

	require.NoError(t, authz.DeleteRelation(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001"))
	allowed, err = authz.CheckPermission(ctx, "alice", auth.RelationEditor, auth.ObjectRecord, "SOP-2025-001")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, next.checks)
}

// TestCachedAuthorizer_ErrorNotCached 测试错误不写入缓存
func TestCachedAuthorizer_ErrorNotCached(t *testing.T) {
	next := &countingAuthorizer{allowed: map[string]bool{}, err: errors.New("fga unavailable")}
	authz := auth.NewCachedAuthorizer(next, auth.NewPermissionCache(0, time.Minute))

	_, err := authz.CheckPermission(context.Background(), "alice", auth.RelationViewer, auth.ObjectRecord, "CAPA-0001")
	assert.Error(t, err)
	_, err = authz.CheckPermission(context.Background(), "alice", auth.RelationViewer, auth.ObjectRecord, "CAPA-0001")
	assert.Error(t, err)
	assert.Equal(t, 2, next.checks)
}

// TestPermissionMiddleware 测试记录权限中间件
func TestPermissionMiddleware(t *testing.T) {
	authz := &countingAuthorizer{allowed: map[string]bool{
		"alice|viewer|record:SOP-2025-001": true,
	}}

	router := gin.New()
	router.Use(auth.NewActorResolver(nil, true).Middleware())
	router.GET("/records/:id", auth.PermissionMiddleware(authz, auth.ObjectRecord, auth.RelationViewer), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := func(actor, id string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/records/"+id, nil)
		req.Header.Set(auth.HeaderActorID, actor)
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, request("alice", "SOP-2025-001"))
	assert.Equal(t, http.StatusForbidden, request("bob", "SOP-2025-001"))
	assert.Equal(t, http.StatusForbidden, request("alice", "SOP-2025-002"))

	authz.err = errors.New("fga unavailable")
	assert.Equal(t, http.StatusInternalServerError, request("alice", "SOP-2025-001"))
}

// TestGetPermissionModel 测试权限模型定义
func TestGetPermissionModel(t *testing.T) {
	m := auth.GetPermissionModel()
	assert.Contains(t, m, "type record")
	assert.Contains(t, m, "define owner: [user]")
	assert.Contains(t, m, "define editor: [user] or owner")
	assert.Contains(t, m, "define action_owner: [user] or editor")
	assert.Contains(t, m, "define reviewer: [user] or owner")
	assert.Contains(t, m, "define viewer: [user] or editor or approver or action_owner or reviewer")
}

// TestNewOpenFGAClient 测试创建 OpenFGA 客户端不需要连接服务端
func TestNewOpenFGAClient(t *testing.T) {
	c, err := auth.NewOpenFGAClient("http://localhost:8080", "01HSTORE0000000000000000000", "01HMODEL0000000000000000000")
	if err != nil {
		t.Skipf("OpenFGA client creation failed: %v", err)
	}
	require.NotNil(t, c)

	var nilClient *auth.OpenFGAClient
	assert.False(t, nilClient.CheckHealth(context.Background()))
}
