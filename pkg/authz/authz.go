// Package authz evaluates the room permission matrix. It is pure lookup:
// the matrix is passed in already loaded, and nothing here touches a store.
package authz

import "github.com/cybernetics/hackify-server/pkg/room"

// Allowed reports whether the matrix grants action to role. Unknown roles
// and unknown actions are denied: the matrix must say yes explicitly.
func Allowed(m room.AuthMap, role room.Role, action room.Action) bool {
	actions, ok := m[role]
	if !ok {
		return false
	}
	return actions[action]
}

// Check wraps Allowed into the error the dispatch boundary reports to the
// originating connection.
func Check(m room.AuthMap, role room.Role, action room.Action) error {
	if !Allowed(m, role, action) {
		return room.Denied(action)
	}
	return nil
}
