package shared

import "strings"

// Capabilities granted by the remote API to back-office users.
const (
	CapFormsView     = "forms.view"
	CapFormsEdit     = "forms.edit"
	CapContactsView  = "contacts.view"
	CapContactsReply = "contacts.reply"
	CapChatsView     = "chats.view"
	CapChatsReply    = "chats.reply"
)

// roleCapabilities expands legacy role names for users whose profile carries
// no explicit capability list.
var roleCapabilities = map[string][]string{
	"admin":   AllCapabilities(),
	"support": {CapContactsView, CapContactsReply, CapChatsView, CapChatsReply},
	"staff":   {CapFormsView, CapFormsEdit},
}

// AllCapabilities lists every capability known to the portal.
func AllCapabilities() []string {
	return []string{
		CapFormsView,
		CapFormsEdit,
		CapContactsView,
		CapContactsReply,
		CapChatsView,
		CapChatsReply,
	}
}

// EffectiveCapabilities returns the explicit capabilities of u, falling back
// to the defaults of its role.
func (u *CurrentUser) EffectiveCapabilities() []string {
	if u == nil {
		return nil
	}
	if len(u.Capabilities) > 0 {
		return u.Capabilities
	}
	return roleCapabilities[strings.ToLower(strings.TrimSpace(u.Role))]
}

// Can reports whether u holds the capability.
func (u *CurrentUser) Can(capability string) bool {
	want := strings.ToLower(strings.TrimSpace(capability))
	for _, granted := range u.EffectiveCapabilities() {
		if strings.EqualFold(granted, want) {
			return true
		}
	}
	return false
}
