package accounts

// Action is a user-management capability a deployment context may expose.
type Action string

// Actions offered by the account views.
const (
	ActionCreate          Action = "create"
	ActionEditPermissions Action = "editPermissions"
	ActionPassword        Action = "password"
	ActionQuota           Action = "quota"
	ActionRemark          Action = "remark"
	ActionDelete          Action = "delete"
)

// Profile is one deployment context of the account views. All profiles share
// the same service and guards and differ only in the actions they expose.
type Profile struct {
	Name    string
	actions []Action
}

// Allows reports whether the profile exposes a.
func (p Profile) Allows(a Action) bool {
	for _, have := range p.actions {
		if have == a {
			return true
		}
	}
	return false
}

// Actions lists the exposed actions in display order.
func (p Profile) Actions() []Action {
	out := make([]Action, len(p.actions))
	copy(out, p.actions)
	return out
}

var fullActions = []Action{ActionCreate, ActionEditPermissions, ActionPassword, ActionQuota, ActionRemark, ActionDelete}

var profiles = []Profile{
	{Name: "home", actions: fullActions},
	{Name: "settings", actions: fullActions},
	{Name: "bullet", actions: []Action{ActionCreate, ActionEditPermissions, ActionPassword}},
}

// Profiles returns every deployment context.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// LookupProfile finds a profile by name.
func LookupProfile(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
