package protocol

import "fmt"

// MessageType identifies the body layout of a packet. The numeric values are
// part of the wire format and must be identical in client and server builds:
// new types are only ever appended.
type MessageType uint32

// Types prefixed with Server are sent TO the server, types prefixed with
// Client are sent TO the client.
const (
	ServerGetPing MessageType = iota

	ServerRegister
	ServerLogin
	ServerLogout
	ServerChangeDisplayName

	ServerCreateServer
	ServerDeleteServer

	ServerAddChannelToServer
	ServerRemoveChannelFromServer
	ServerJoinServer
	ServerLeaveServer
	ServerJoinChannel
	ServerLeaveChannel

	ClientClientConnected
	ClientClientAccepted

	ClientRegisterSuccess
	ClientRegisterFail
	ClientLoginSuccess
	ClientLoginFail
	ClientLogoutSuccess
	ClientLogoutFail
	ClientChangeDisplayNameSuccess
	ClientChangeDisplayNameFail

	ClientCreateServerSuccess
	ClientCreateServerFail
	ClientDeleteServerSuccess
	ClientDeleteServerFail

	ClientAddChannelToServerSuccess
	ClientAddChannelToServerFail
	ClientRemoveChannelFromServerSuccess
	ClientRemoveChannelFromServerFail
	ClientJoinServerSuccess
	ClientJoinServerFail
	ClientLeaveServerSuccess
	ClientLeaveServerFail
	ClientJoinChannelSuccess
	ClientJoinChannelFail
	ClientLeaveChannelSuccess
	ClientLeaveChannelFail

	// Messages.
	ServerSendMessage
	ServerEditMessage
	ServerDeleteMessage

	ClientSendMessageSuccess
	ClientSendMessageFail
	ClientEditMessageSuccess
	ClientEditMessageFail
	ClientDeleteMessageSuccess
	ClientDeleteMessageFail
	ClientMessagePosted
	ClientPong

	messageTypeCount
)

var messageTypeNames = [messageTypeCount]string{
	ServerGetPing:                        "Server_GetPing",
	ServerRegister:                       "Server_Register",
	ServerLogin:                          "Server_Login",
	ServerLogout:                         "Server_Logout",
	ServerChangeDisplayName:              "Server_ChangeDisplayName",
	ServerCreateServer:                   "Server_CreateServer",
	ServerDeleteServer:                   "Server_DeleteServer",
	ServerAddChannelToServer:             "Server_AddChannelToServer",
	ServerRemoveChannelFromServer:        "Server_RemoveChannelFromServer",
	ServerJoinServer:                     "Server_JoinServer",
	ServerLeaveServer:                    "Server_LeaveServer",
	ServerJoinChannel:                    "Server_JoinChannel",
	ServerLeaveChannel:                   "Server_LeaveChannel",
	ClientClientConnected:                "Client_ClientConnected",
	ClientClientAccepted:                 "Client_ClientAccepted",
	ClientRegisterSuccess:                "Client_Register_Success",
	ClientRegisterFail:                   "Client_Register_Fail",
	ClientLoginSuccess:                   "Client_Login_Success",
	ClientLoginFail:                      "Client_Login_Fail",
	ClientLogoutSuccess:                  "Client_Logout_Success",
	ClientLogoutFail:                     "Client_Logout_Fail",
	ClientChangeDisplayNameSuccess:       "Client_ChangeDisplayName_Success",
	ClientChangeDisplayNameFail:          "Client_ChangeDisplayName_Fail",
	ClientCreateServerSuccess:            "Client_CreateServer_Success",
	ClientCreateServerFail:               "Client_CreateServer_Fail",
	ClientDeleteServerSuccess:            "Client_DeleteServer_Success",
	ClientDeleteServerFail:               "Client_DeleteServer_Fail",
	ClientAddChannelToServerSuccess:      "Client_AddChannelToServer_Success",
	ClientAddChannelToServerFail:         "Client_AddChannelToServer_Fail",
	ClientRemoveChannelFromServerSuccess: "Client_RemoveChannelFromServer_Success",
	ClientRemoveChannelFromServerFail:    "Client_RemoveChannelFromServer_Fail",
	ClientJoinServerSuccess:              "Client_JoinServer_Success",
	ClientJoinServerFail:                 "Client_JoinServer_Fail",
	ClientLeaveServerSuccess:             "Client_LeaveServer_Success",
	ClientLeaveServerFail:                "Client_LeaveServer_Fail",
	ClientJoinChannelSuccess:             "Client_JoinChannel_Success",
	ClientJoinChannelFail:                "Client_JoinChannel_Fail",
	ClientLeaveChannelSuccess:            "Client_LeaveChannel_Success",
	ClientLeaveChannelFail:               "Client_LeaveChannel_Fail",
	ServerSendMessage:                    "Server_SendMessage",
	ServerEditMessage:                    "Server_EditMessage",
	ServerDeleteMessage:                  "Server_DeleteMessage",
	ClientSendMessageSuccess:             "Client_SendMessage_Success",
	ClientSendMessageFail:                "Client_SendMessage_Fail",
	ClientEditMessageSuccess:             "Client_EditMessage_Success",
	ClientEditMessageFail:                "Client_EditMessage_Fail",
	ClientDeleteMessageSuccess:           "Client_DeleteMessage_Success",
	ClientDeleteMessageFail:              "Client_DeleteMessage_Fail",
	ClientMessagePosted:                  "Client_MessagePosted",
	ClientPong:                           "Client_Pong",
}

// Valid reports whether t belongs to the shared enumeration.
func (t MessageType) Valid() bool {
	return t < messageTypeCount
}

func (t MessageType) String() string {
	if t.Valid() {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", uint32(t))
}
