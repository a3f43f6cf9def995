package log

const (
	// Connection
	FieldConnID   = "conn_id"
	FieldRemoteIP = "remote_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldRoomID = "room_id"
	FieldMsgID  = "msg_id"
	FieldSeq    = "seq"

	// Service
	FieldService = "service"
)
