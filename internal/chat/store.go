// Package chat is the chat application built on the host package: request
// payloads, the persistence boundary and the server and client handler sets.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserExists      = errors.New("username already taken")
	ErrUnknownUser     = errors.New("unknown user")
	ErrBadCredentials  = errors.New("wrong username or password")
	ErrUnknownServer   = errors.New("unknown server")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrNotMember       = errors.New("not a member of this server")
	ErrAlreadyMember   = errors.New("already a member of this server")
	ErrPermission      = errors.New("permission denied")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// UserStatus is the presence of a user.
type UserStatus uint8

const (
	StatusOffline UserStatus = iota
	StatusOnline
)

func (s UserStatus) String() string {
	if s == StatusOnline {
		return "online"
	}
	return "offline"
}

type User struct {
	Username    string
	DisplayName string
	Status      UserStatus
	Servers     []string
	CreatedAt   time.Time
	LastLogin   time.Time
}

// Server is a chat server: a named group of members and channels owned by
// one user.
type Server struct {
	ID        string
	Name      string
	Owner     string
	Members   []string
	Channels  []string
	CreatedAt time.Time
}

type Channel struct {
	ID        string
	ServerID  string
	Name      string
	CreatedAt time.Time
}

type Message struct {
	ID        string
	ChannelID string
	Author    string
	Content   string
	CreatedAt time.Time
	EditedAt  time.Time
}

// Store is the persistence boundary. Calls are synchronous and report
// failure with one of the package errors, possibly wrapped. Implementations
// must be safe for concurrent use.
type Store interface {
	CreateUser(ctx context.Context, username, password string) error
	DeleteUser(ctx context.Context, username string) error
	User(ctx context.Context, username string) (User, error)

	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context, username string) error
	ChangeDisplayName(ctx context.Context, username, displayName string) error

	CreateServer(ctx context.Context, owner, name string) (Server, error)
	DeleteServer(ctx context.Context, actor, serverID string) error
	JoinServer(ctx context.Context, serverID, username string) error
	LeaveServer(ctx context.Context, serverID, username string) error

	CreateChannel(ctx context.Context, actor, serverID, name string) (Channel, error)
	DeleteChannel(ctx context.Context, actor, serverID, channelID string) error
	Channel(ctx context.Context, channelID string) (Channel, error)

	SendMessage(ctx context.Context, author, channelID, content string) (Message, error)
	EditMessage(ctx context.Context, author, messageID, content string) (Message, error)
	DeleteMessage(ctx context.Context, author, channelID, messageID string) error
	ChannelMessages(ctx context.Context, channelID string) ([]Message, error)
}
