package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type userRecord struct {
	User
	passwordHash []byte
}

type channelRecord struct {
	Channel
	messages []string
}

// MemoryStore is an in-process Store. Passwords are kept as bcrypt hashes.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*userRecord
	servers  map[string]*Server
	channels map[string]*channelRecord
	messages map[string]*Message
	nextID   uint64
	cost     int
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*userRecord),
		servers:  make(map[string]*Server),
		channels: make(map[string]*channelRecord),
		messages: make(map[string]*Message),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// newID returns a fresh id with the given prefix. Callers hold s.mu.
func (s *MemoryStore) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *MemoryStore) CreateUser(ctx context.Context, username, password string) error {
	// Hash outside the lock, bcrypt is slow on purpose.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = &userRecord{
		User: User{
			Username:    username,
			DisplayName: username,
			Status:      StatusOffline,
			CreatedAt:   s.now(),
		},
		passwordHash: hash,
	}
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	for _, id := range u.Servers {
		if srv, ok := s.servers[id]; ok {
			srv.Members = remove(srv.Members, username)
		}
	}
	delete(s.users, username)
	return nil
}

func (s *MemoryStore) User(ctx context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrUnknownUser
	}
	out := u.User
	out.Servers = slices.Clone(u.Servers)
	return out, nil
}

func (s *MemoryStore) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	u, ok := s.users[username]
	var hash []byte
	if ok {
		hash = u.passwordHash
	}
	s.mu.Unlock()

	if !ok {
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrBadCredentials
		}
		return fmt.Errorf("compare password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[username]; !ok {
		return ErrBadCredentials
	}
	u.Status = StatusOnline
	u.LastLogin = s.now()
	return nil
}

func (s *MemoryStore) Logout(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	u.Status = StatusOffline
	return nil
}

func (s *MemoryStore) ChangeDisplayName(ctx context.Context, username, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	u.DisplayName = displayName
	return nil
}

// ---------------------------------------------------------------------------
// Servers
// ---------------------------------------------------------------------------

func (s *MemoryStore) CreateServer(ctx context.Context, owner, name string) (Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[owner]
	if !ok {
		return Server{}, ErrUnknownUser
	}

	srv := &Server{
		ID:        s.newID("srv"),
		Name:      name,
		Owner:     owner,
		Members:   []string{owner},
		CreatedAt: s.now(),
	}
	s.servers[srv.ID] = srv
	u.Servers = append(u.Servers, srv.ID)
	return cloneServer(srv), nil
}

// DeleteServer removes a server with its channels and their messages. Only
// the owner may do it.
func (s *MemoryStore) DeleteServer(ctx context.Context, actor, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return ErrUnknownServer
	}
	if srv.Owner != actor {
		return ErrPermission
	}

	for _, member := range srv.Members {
		if u, ok := s.users[member]; ok {
			u.Servers = remove(u.Servers, serverID)
		}
	}
	for _, ch := range srv.Channels {
		s.dropChannel(ch)
	}
	delete(s.servers, serverID)
	return nil
}

func (s *MemoryStore) JoinServer(ctx context.Context, serverID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return ErrUnknownServer
	}
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	if slices.Contains(srv.Members, username) {
		return ErrAlreadyMember
	}
	srv.Members = append(srv.Members, username)
	u.Servers = append(u.Servers, serverID)
	return nil
}

func (s *MemoryStore) LeaveServer(ctx context.Context, serverID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return ErrUnknownServer
	}
	if !slices.Contains(srv.Members, username) {
		return ErrNotMember
	}
	if srv.Owner == username {
		return fmt.Errorf("%w: the owner cannot leave, delete the server instead", ErrPermission)
	}
	srv.Members = remove(srv.Members, username)
	if u, ok := s.users[username]; ok {
		u.Servers = remove(u.Servers, serverID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

func (s *MemoryStore) CreateChannel(ctx context.Context, actor, serverID, name string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return Channel{}, ErrUnknownServer
	}
	if srv.Owner != actor {
		return Channel{}, ErrPermission
	}

	ch := &channelRecord{Channel: Channel{
		ID:        s.newID("ch"),
		ServerID:  serverID,
		Name:      name,
		CreatedAt: s.now(),
	}}
	s.channels[ch.ID] = ch
	srv.Channels = append(srv.Channels, ch.ID)
	return ch.Channel, nil
}

func (s *MemoryStore) DeleteChannel(ctx context.Context, actor, serverID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return ErrUnknownServer
	}
	if srv.Owner != actor {
		return ErrPermission
	}
	if !slices.Contains(srv.Channels, channelID) {
		return ErrUnknownChannel
	}
	srv.Channels = remove(srv.Channels, channelID)
	s.dropChannel(channelID)
	return nil
}

func (s *MemoryStore) Channel(ctx context.Context, channelID string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Channel{}, ErrUnknownChannel
	}
	return ch.Channel, nil
}

// dropChannel deletes a channel and its messages. Callers hold s.mu.
func (s *MemoryStore) dropChannel(channelID string) {
	ch, ok := s.channels[channelID]
	if !ok {
		return
	}
	for _, id := range ch.messages {
		delete(s.messages, id)
	}
	delete(s.channels, channelID)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// SendMessage appends a message. The author must be a member of the
// channel's server.
func (s *MemoryStore) SendMessage(ctx context.Context, author, channelID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Message{}, ErrUnknownChannel
	}
	if srv, ok := s.servers[ch.ServerID]; !ok || !slices.Contains(srv.Members, author) {
		return Message{}, ErrNotMember
	}

	msg := &Message{
		ID:        s.newID("msg"),
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[msg.ID] = msg
	ch.messages = append(ch.messages, msg.ID)
	return *msg, nil
}

func (s *MemoryStore) EditMessage(ctx context.Context, author, messageID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	if msg.Author != author {
		return Message{}, ErrPermission
	}
	msg.Content = content
	msg.EditedAt = s.now()
	return *msg, nil
}

// DeleteMessage removes a message. Its author and the server owner may do
// it.
func (s *MemoryStore) DeleteMessage(ctx context.Context, author, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	msg, ok := s.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return ErrUnknownMessage
	}
	if msg.Author != author {
		if srv, ok := s.servers[ch.ServerID]; !ok || srv.Owner != author {
			return ErrPermission
		}
	}
	ch.messages = remove(ch.messages, messageID)
	delete(s.messages, messageID)
	return nil
}

func (s *MemoryStore) ChannelMessages(ctx context.Context, channelID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrUnknownChannel
	}
	out := make([]Message, 0, len(ch.messages))
	for _, id := range ch.messages {
		out = append(out, *s.messages[id])
	}
	return out, nil
}

func cloneServer(srv *Server) Server {
	out := *srv
	out.Members = slices.Clone(srv.Members)
	out.Channels = slices.Clone(srv.Channels)
	return out
}

func remove(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}
