package resolve

// RegisteredPermission is one permission known to the host, together with
// its declared child permissions. A child mapped to true is granted
// whenever the parent is.
type RegisteredPermission struct {
	Key      string
	Children map[string]bool
}

// HostACL is the optional host collaborator: a live-session permission
// source consulted as a fallback, and the registry of declared permissions
// used for wildcard expansion. The engine never assumes it is present.
type HostACL interface {
	HasSessionPermission(identity, permission string) bool
	RegisteredPermissions() []RegisteredPermission
}
