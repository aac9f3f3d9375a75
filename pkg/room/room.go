package room

// Role is a participant's standing inside a single room.
type Role string

const (
	RoleModerator Role = "moderator"
	RoleEditor    Role = "editor"
	RoleDefault   Role = "default"
)

// Action names one of the fixed room operations a role may be allowed to
// perform. The vocabulary is closed; the authorization engine denies
// anything it does not recognize.
type Action string

const (
	ActionEditData          Action = "editData"
	ActionNewChatMessage    Action = "newChatMessage"
	ActionChangeUserID      Action = "changeUserId"
	ActionSaveCurrentFile   Action = "saveCurrentFile"
	ActionChangeCurrentFile Action = "changeCurrentFile"
	ActionChangeRole        Action = "changeRole"
)

// AuthMap is a room's permission matrix: role -> action -> allowed.
type AuthMap map[Role]map[Action]bool

// Room is the canonical record for a named collaborative session.
type Room struct {
	Name string `json:"name"`

	// ModeratorPass is the opaque secret a joiner presents to claim the
	// moderator role.
	ModeratorPass string `json:"moderatorPass"`

	ReadOnly bool `json:"readOnly"`

	// Permanent rooms survive a full reset: their contents are cleared but
	// the room record itself is recreated.
	Permanent bool `json:"permanent"`

	// HostConn is the connection currently acting as host. Transient; it is
	// cleared on reset and never meaningful across processes.
	HostConn string `json:"hostConn,omitempty"`

	AuthMap AuthMap `json:"authMap"`
}

// Presence is one connected identity's entry in a room.
type Presence struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// OpenFile is the live edit buffer for a file, which diverges from the
// saved copy until someone saves.
type OpenFile struct {
	Content string `json:"content"`

	// Dirty is true while Content has diverged from the saved file.
	Dirty bool `json:"dirty"`
}

// DefaultAuthMap returns the matrix new rooms start with: everyone may edit
// and chat, only moderators may change roles.
func DefaultAuthMap() AuthMap {
	return AuthMap{
		RoleModerator: {
			ActionEditData:          true,
			ActionNewChatMessage:    true,
			ActionChangeUserID:      true,
			ActionSaveCurrentFile:   true,
			ActionChangeCurrentFile: true,
			ActionChangeRole:        true,
		},
		RoleEditor: {
			ActionEditData:          true,
			ActionNewChatMessage:    true,
			ActionChangeUserID:      true,
			ActionSaveCurrentFile:   true,
			ActionChangeCurrentFile: true,
			ActionChangeRole:        false,
		},
		RoleDefault: {
			ActionEditData:          true,
			ActionNewChatMessage:    true,
			ActionChangeUserID:      true,
			ActionSaveCurrentFile:   true,
			ActionChangeCurrentFile: true,
			ActionChangeRole:        false,
		},
	}
}

// ValidAuthMap reports whether the matrix defines a row for every role the
// store requires. Rooms with partial matrices are rejected at Set time so
// the authorization engine never has to special-case them.
func ValidAuthMap(m AuthMap) bool {
	for _, role := range []Role{RoleModerator, RoleEditor, RoleDefault} {
		if _, ok := m[role]; !ok {
			return false
		}
	}
	return true
}
