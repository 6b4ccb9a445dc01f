// Package permissions holds the permission catalog, the override resolver and
// the guards shared by every account, token and settings endpoint.
package permissions

// Kind classifies the default policy of a permission.
type Kind string

const (
	// KindFlag permissions are allowed unless explicitly revoked.
	KindFlag Kind = "flag"
	// KindAction permissions are denied unless explicitly granted.
	KindAction Kind = "action"
)

// Permission keys.
const (
	ChangePasswordSelf = "changePasswordSelf"
	CreateUsers        = "createUsers"
	EditUsers          = "editUsers"

	ViewGlobalRate = "viewGlobalRate"
	ViewHomeStatus = "viewHomeStatus"

	EditTmdb           = "editTmdb"
	EditTvdb           = "editTvdb"
	EditDouban         = "editDouban"
	EditBangumi        = "editBangumi"
	EditProxy          = "editProxy"
	EditTrustedProxies = "editTrustedProxies"
	EditWebhook        = "editWebhook"
	EditCustomDomain   = "editCustomDomain"
	EditUaFilter       = "editUaFilter"

	EditLibrary        = "editLibrary"
	EditDanmakuOutput  = "editDanmakuOutput"
	EditScheduledTasks = "editScheduledTasks"
	EditWebhookTasks   = "editWebhookTasks"
	EditScrapers       = "editScrapers"
	EditControl        = "editControl"
)

// Group names, in display order.
const (
	GroupAccount  = "账户与安全"
	GroupMonitor  = "监控与配额"
	GroupSettings = "设置配置"
	GroupOutput   = "任务/弹幕/搜索/外部控制"
)

// Descriptor describes one catalog entry.
type Descriptor struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Group  string `json:"group"`
	Kind   Kind   `json:"type"`
	Danger bool   `json:"danger"`
}

// Group is a named, ordered slice of descriptors.
type Group struct {
	Name        string       `json:"name"`
	Permissions []Descriptor `json:"permissions"`
}

var groupOrder = []string{GroupAccount, GroupMonitor, GroupSettings, GroupOutput}

var catalog = []Descriptor{
	{Key: ChangePasswordSelf, Label: "允许修改自己密码", Group: GroupAccount, Kind: KindFlag},
	{Key: CreateUsers, Label: "允许新增用户", Group: GroupAccount, Kind: KindAction, Danger: true},
	{Key: EditUsers, Label: "允许编辑用户权限", Group: GroupAccount, Kind: KindAction, Danger: true},

	{Key: ViewGlobalRate, Label: "查看全局配额使用", Group: GroupMonitor, Kind: KindAction},
	{Key: ViewHomeStatus, Label: "查看首页日志/状态", Group: GroupMonitor, Kind: KindAction},

	{Key: EditTmdb, Label: "编辑 TMDB 配置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditTvdb, Label: "编辑 TVDB 配置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditDouban, Label: "编辑 豆瓣 配置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditBangumi, Label: "编辑 Bangumi 配置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditProxy, Label: "编辑 反向代理 设置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditTrustedProxies, Label: "编辑 受信任反代", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditWebhook, Label: "编辑 Webhook 设置", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditCustomDomain, Label: "编辑 自定义域名", Group: GroupSettings, Kind: KindAction, Danger: true},
	{Key: EditUaFilter, Label: "编辑 全局 UA 过滤", Group: GroupSettings, Kind: KindAction, Danger: true},

	{Key: EditLibrary, Label: "编辑 弹幕库", Group: GroupOutput, Kind: KindAction, Danger: true},
	{Key: EditDanmakuOutput, Label: "编辑 弹幕token", Group: GroupOutput, Kind: KindAction, Danger: true},
	{Key: EditScheduledTasks, Label: "编辑 定时任务", Group: GroupOutput, Kind: KindAction, Danger: true},
	{Key: EditWebhookTasks, Label: "编辑 Webhook 任务", Group: GroupOutput, Kind: KindAction, Danger: true},
	{Key: EditScrapers, Label: "编辑 搜索源", Group: GroupOutput, Kind: KindAction, Danger: true},
	{Key: EditControl, Label: "编辑 外部控制", Group: GroupOutput, Kind: KindAction, Danger: true},
}

var byKey = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(catalog))
	for _, d := range catalog {
		m[d.Key] = d
	}
	return m
}()

// Descriptors returns a copy of the catalog in declaration order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Keys returns every catalog key in declaration order.
func Keys() []string {
	keys := make([]string, len(catalog))
	for i, d := range catalog {
		keys[i] = d.Key
	}
	return keys
}

// Lookup returns the descriptor registered for key.
func Lookup(key string) (Descriptor, bool) {
	d, ok := byKey[key]
	return d, ok
}

// Known reports whether key is part of the catalog.
func Known(key string) bool {
	_, ok := byKey[key]
	return ok
}

// IsDefaultAllow reports whether key is allowed when a user carries no override.
// Unknown keys are never allowed.
func IsDefaultAllow(key string) bool {
	d, ok := byKey[key]
	if !ok {
		return false
	}
	return d.Kind == KindFlag
}

// DefaultBoolOf returns the boolean default for key.
func DefaultBoolOf(key string) bool {
	return IsDefaultAllow(key)
}

// Groups returns the catalog split by group, in display order.
func Groups() []Group {
	buckets := make(map[string][]Descriptor, len(groupOrder))
	for _, d := range catalog {
		buckets[d.Group] = append(buckets[d.Group], d)
	}
	groups := make([]Group, 0, len(groupOrder))
	for _, name := range groupOrder {
		if perms, ok := buckets[name]; ok {
			groups = append(groups, Group{Name: name, Permissions: perms})
		}
	}
	return groups
}
