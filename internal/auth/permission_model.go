package auth

// GetPermissionModel 获取 OpenFGA 权限模型定义
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type record
  relations
    define owner: [user]
    define editor: [user] or owner
    define approver: [user]
    define action_owner: [user] or editor
    define reviewer: [user] or owner
    define viewer: [user] or editor or approver or action_owner or reviewer`
}
