package userstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrAuthFailure covers both unknown user and wrong password so a caller
	// cannot tell which was the case.
	ErrAuthFailure = errors.New("invalid username or password")
)

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type snapshot struct {
	Users  []User `json:"users"`
	NextID int64  `json:"nextId"`
}

// Store keeps all accounts in a single JSON snapshot file. Every
// read-modify-write cycle holds mu, so concurrent registrations cannot lose
// each other's writes.
type Store struct {
	path       string
	uploadsDir string

	mu   sync.Mutex
	snap snapshot
}

// Open loads the snapshot at path (a missing file starts an empty store)
// and remembers uploadsDir for per-user directory provisioning.
func Open(path, uploadsDir string) (*Store, error) {
	s := &Store{
		path:       path,
		uploadsDir: uploadsDir,
		snap:       snapshot{NextID: 1},
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.snap); err != nil {
		return nil, err
	}
	if s.snap.NextID < 1 {
		s.snap.NextID = 1
	}
	return s, nil
}

func (s *Store) FindByUsername(name string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name)
}

func (s *Store) findLocked(name string) (User, bool) {
	for _, u := range s.snap.Users {
		if u.Username == name {
			return u, true
		}
	}
	return User{}, false
}

// Create registers a new user, persists the snapshot and provisions the
// user's upload directory. Username matching is case-sensitive exact.
func (s *Store) Create(username, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findLocked(username); ok {
		return User{}, ErrDuplicateUsername
	}
	u := User{
		ID:           s.snap.NextID,
		Username:     username,
		PasswordHash: passwordHash,
	}
	s.snap.Users = append(s.snap.Users, u)
	s.snap.NextID++
	if err := s.saveLocked(); err != nil {
		// roll back the in-memory mutation so a retry sees the old state
		s.snap.Users = s.snap.Users[:len(s.snap.Users)-1]
		s.snap.NextID--
		return User{}, err
	}
	if err := os.MkdirAll(filepath.Join(s.uploadsDir, username), 0o755); err != nil {
		return User{}, err
	}
	return u, nil
}

// VerifyCredentials returns the user when the password matches. Unknown
// user and wrong password both yield ErrAuthFailure; a bcrypt compare runs
// either way to keep the two cases close in timing.
func (s *Store) VerifyCredentials(username, password string) (User, error) {
	u, ok := s.FindByUsername(username)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrAuthFailure
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrAuthFailure
	}
	return u, nil
}

// Count reports the number of registered users.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snap.Users)
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(&s.snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// dummyHash is a valid bcrypt hash of an unguessable value, used for the
// compare on unknown usernames.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0X1ZvQZxKQyQJb1l1xw8vHqXK2e")
