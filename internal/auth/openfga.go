package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

// 记录对象类型与关系
const (
	ObjectRecord = "record"

	RelationOwner    = "owner"
	RelationEditor   = "editor"
	RelationApprover = "approver"
	RelationViewer   = "viewer"

	// RelationActionOwner 可以为 CAPA 措施提交证据
	RelationActionOwner = "action_owner"
	// RelationReviewer 可以验证措施和进行效果复审, 独立性由引擎检查
	RelationReviewer = "reviewer"
)

// Authorizer 记录级授权
type Authorizer interface {
	CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error)
	SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error
	DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error
}

func fgaUser(userID string) string {
	return "user:" + userID
}

func fgaObject(objectType, objectID string) string {
	return objectType + ":" + objectID
}

// OpenFGAClient OpenFGA 客户端
type OpenFGAClient struct {
	client  *client.OpenFgaClient
	storeID string
	modelID string
}

// NewOpenFGAClient 创建 OpenFGA 客户端, 不访问服务端
func NewOpenFGAClient(apiURL, storeID, modelID string) (*OpenFGAClient, error) {
	fgaClient, err := client.NewSdkClient(&client.ClientConfiguration{
		ApiUrl:               apiURL,
		StoreId:              storeID,
		AuthorizationModelId: modelID,
		Credentials: &credentials.Credentials{
			Method: credentials.CredentialsMethodNone,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}
	return &OpenFGAClient{client: fgaClient, storeID: storeID, modelID: modelID}, nil
}

// NewOpenFGAClientWithRetry 创建客户端并确认 store 可读, 失败时按指数退避重试
func NewOpenFGAClientWithRetry(apiURL, storeID, modelID string, maxRetries int, retryInterval time.Duration) (*OpenFGAClient, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		c, err := NewOpenFGAClient(apiURL, storeID, modelID)
		if err == nil {
			if err = c.ping(context.Background()); err == nil {
				return c, nil
			}
		}
		lastErr = err
		if attempt < maxRetries {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	return nil, fmt.Errorf("failed to reach OpenFGA store %s after %d attempts: %w", storeID, maxRetries, lastErr)
}

func (c *OpenFGAClient) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.client.Read(ctx).Execute()
	return err
}

// CheckHealth OpenFGA 是否可用
func (c *OpenFGAClient) CheckHealth(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.ping(ctx) == nil
}

// CheckPermission 检查用户对对象是否具有关系, 包括模型推导出的关系
func (c *OpenFGAClient) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	resp, err := c.client.Check(ctx).Body(client.ClientCheckRequest{
		User:     fgaUser(userID),
		Relation: relation,
		Object:   fgaObject(objectType, objectID),
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("failed to check %s on %s: %w", relation, fgaObject(objectType, objectID), err)
	}
	return resp.GetAllowed(), nil
}

// SetRelation 写入关系元组
func (c *OpenFGAClient) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	_, err := c.client.Write(ctx).Body(client.ClientWriteRequest{
		Writes: []client.ClientTupleKey{{
			User:     fgaUser(userID),
			Relation: relation,
			Object:   fgaObject(objectType, objectID),
		}},
	}).Execute()
	if err != nil {
		return fmt.Errorf("failed to write %s tuple for %s: %w", relation, userID, err)
	}
	return nil
}

// DeleteRelation 删除关系元组
func (c *OpenFGAClient) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	_, err := c.client.Write(ctx).Body(client.ClientWriteRequest{
		Deletes: []client.ClientTupleKeyWithoutCondition{{
			User:     fgaUser(userID),
			Relation: relation,
			Object:   fgaObject(objectType, objectID),
		}},
	}).Execute()
	if err != nil {
		return fmt.Errorf("failed to delete %s tuple for %s: %w", relation, userID, err)
	}
	return nil
}

// PermissionMiddleware 记录权限检查中间件, 对象 ID 取自路由参数 :id
// 必须挂在认证中间件之后
func PermissionMiddleware(authz Authorizer, objectType, relation string) gin.HandlerFunc {
	deny := func(c *gin.Context, status int, message string) {
		c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
	}
	return func(c *gin.Context) {
		userID, ok := ActorID(c)
		if !ok {
			deny(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		allowed, err := authz.CheckPermission(c.Request.Context(), userID, relation, objectType, c.Param("id"))
		switch {
		case err != nil:
			_ = c.Error(err)
			deny(c, http.StatusInternalServerError, "permission check failed")
		case !allowed:
			deny(c, http.StatusForbidden, "forbidden")
		default:
			c.Next()
		}
	}
}
