package userstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scripthost/internal/auth"
)

func newStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	s, err := Open(filepath.Join(dir, "users.json"), uploads)
	require.NoError(t, err)
	return s, filepath.Join(dir, "users.json"), uploads
}

func hash(t *testing.T, plain string) string {
	t.Helper()
	h, err := auth.HashPassword(plain)
	require.NoError(t, err)
	return h
}

func TestCreateAndFind(t *testing.T) {
	t.Parallel()
	s, _, uploads := newStore(t)

	u, err := s.Create("alice", hash(t, "secret123"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "alice", u.Username)

	got, ok := s.FindByUsername("alice")
	require.True(t, ok)
	assert.Equal(t, u, got)

	_, ok = s.FindByUsername("bob")
	assert.False(t, ok)

	// case-sensitive exact match
	_, ok = s.FindByUsername("Alice")
	assert.False(t, ok)

	// the user's upload directory was provisioned
	st, err := os.Stat(filepath.Join(uploads, "alice"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestCreate_Duplicate(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)

	_, err := s.Create("alice", hash(t, "one"))
	require.NoError(t, err)
	_, err = s.Create("alice", hash(t, "two"))
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	assert.Equal(t, 1, s.Count())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	s, path, uploads := newStore(t)

	_, err := s.Create("alice", hash(t, "pw"))
	require.NoError(t, err)
	_, err = s.Create("bob", hash(t, "pw"))
	require.NoError(t, err)

	reopened, err := Open(path, uploads)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())

	// ids keep climbing after a reload
	u, err := reopened.Create("carol", hash(t, "pw"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.ID)
}

func TestVerifyCredentials(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)

	_, err := s.Create("alice", hash(t, "secret123"))
	require.NoError(t, err)

	u, err := s.VerifyCredentials("alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	// wrong password and unknown user fail identically
	_, errWrong := s.VerifyCredentials("alice", "nope")
	_, errMissing := s.VerifyCredentials("bob", "whatever")
	assert.ErrorIs(t, errWrong, ErrAuthFailure)
	assert.ErrorIs(t, errMissing, ErrAuthFailure)
	assert.Equal(t, errWrong.Error(), errMissing.Error())
}

func TestConcurrentRegistrations(t *testing.T) {
	t.Parallel()
	s, path, uploads := newStore(t)

	const n = 16
	h := hash(t, "pw")
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(fmt.Sprintf("user%02d", i), h)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, s.Count())

	// every registration survived the write, none was lost
	reopened, err := Open(path, uploads)
	require.NoError(t, err)
	assert.Equal(t, n, reopened.Count())
	for i := 0; i < n; i++ {
		_, ok := reopened.FindByUsername(fmt.Sprintf("user%02d", i))
		assert.True(t, ok, "user%02d missing after reload", i)
	}
}
