package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionCache 权限缓存, 条目按 TTL 过期, 超过容量时淘汰最久未用的
type PermissionCache struct {
	cache *expirable.LRU[string, bool]
}

// NewPermissionCache 创建权限缓存
func NewPermissionCache(size int, ttl time.Duration) *PermissionCache {
	if size <= 0 {
		size = 4096
	}
	return &PermissionCache{
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// Get 获取缓存
func (c *PermissionCache) Get(key string) (bool, bool) {
	return c.cache.Get(key)
}

// Set 设置缓存
func (c *PermissionCache) Set(key string, value bool) {
	c.cache.Add(key, value)
}

// Remove 删除缓存
func (c *PermissionCache) Remove(key string) {
	c.cache.Remove(key)
}

// Clear 清空缓存
func (c *PermissionCache) Clear() {
	c.cache.Purge()
}

// Len 缓存条目数
func (c *PermissionCache) Len() int {
	return c.cache.Len()
}

func cacheKey(userID, relation, objectType, objectID string) string {
	return fmt.Sprintf("user:%s:%s:%s:%s", userID, relation, objectType, objectID)
}

// CachedAuthorizer 带缓存的授权器
type CachedAuthorizer struct {
	next  Authorizer
	cache *PermissionCache
}

// NewCachedAuthorizer 创建带缓存的授权器
func NewCachedAuthorizer(next Authorizer, cache *PermissionCache) *CachedAuthorizer {
	return &CachedAuthorizer{next: next, cache: cache}
}

// CheckPermission 检查权限（带缓存）
func (c *CachedAuthorizer) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	key := cacheKey(userID, relation, objectType, objectID)
	if value, found := c.cache.Get(key); found {
		return value, nil
	}

	allowed, err := c.next.CheckPermission(ctx, userID, relation, objectType, objectID)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

// SetRelation 设置权限关系
// 关系之间存在继承, 变更后清空整个缓存
func (c *CachedAuthorizer) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	if err := c.next.SetRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}

// DeleteRelation 删除权限关系
func (c *CachedAuthorizer) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	if err := c.next.DeleteRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}
