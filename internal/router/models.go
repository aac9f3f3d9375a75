package router

import "encoding/json"

// ClientMessage is the envelope every inbound socket message uses.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the envelope for everything pushed back to clients,
// including bus fan-out and error notices.
type ServerMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names. These are the fixed room actions a connection may
// request; anything else is rejected at dispatch.
const (
	EventJoinRoom          = "joinRoom"
	EventEditData          = "editData"
	EventNewChatMessage    = "newChatMessage"
	EventChangeUserID      = "changeUserId"
	EventSaveCurrentFile   = "saveCurrentFile"
	EventChangeCurrentFile = "changeCurrentFile"
	EventChangeRole        = "changeRole"
)

// Outbound notice event names.
const (
	noticePermissionDenied = "permissionDenied"
	noticeError            = "error"
	noticeRoomJoined       = "roomJoined"
)
