package transport

import (
	"fmt"

	"github.com/1ureka/chatnet/internal/protocol"
)

// Owner tells which side of the link a Connection belongs to.
type Owner uint8

const (
	OwnerServer Owner = iota
	OwnerClient
)

func (o Owner) String() string {
	if o == OwnerServer {
		return "server"
	}
	return "client"
}

// State is the lifecycle state of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingValidation
	StateOpen
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateConnecting:         "connecting",
	StateAwaitingValidation: "awaiting-validation",
	StateOpen:               "open",
	StateClosing:            "closing",
	StateClosed:             "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// OwnedPacket is a received packet tagged with the id of the connection it
// came from. Remote is 0 on the client, which only has one peer; on the
// server it is resolved through the host's registry on each use.
type OwnedPacket struct {
	Remote uint32
	Packet *protocol.Packet
}
