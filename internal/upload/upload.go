package upload

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"scripthost/internal/pathsafe"
)

var (
	ErrBadType  = errors.New("file type not allowed")
	ErrTooLarge = errors.New("file too large")
)

// allowedExts is the fixed allow-list, matched case-insensitively on the
// extension of the declared original filename.
var allowedExts = map[string]bool{
	".lua": true,
	".txt": true,
}

// AllowedExt reports whether name carries an allowed extension.
func AllowedExt(name string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(name))]
}

// Stored describes one file written by Save.
type Stored struct {
	Owner      string
	Name       string // generated stored name
	Original   string // sanitized original, informational
	Ext        string
	Size       int64
	ModifiedAt time.Time
}

// Saver writes uploads beneath root, one directory per username.
type Saver struct {
	root     string
	maxBytes int64
}

func NewSaver(root string, maxBytes int64) *Saver {
	return &Saver{root: root, maxBytes: maxBytes}
}

func (s *Saver) MaxBytes() int64 { return s.maxBytes }

// UserDir returns the owner's directory under the uploads root.
func (s *Saver) UserDir(username string) (string, error) {
	return pathsafe.JoinUnder(s.root, pathsafe.SanitizeSegment(username))
}

// Save validates and writes one upload for username. Validation order:
// extension allow-list first, then the size ceiling (declared size when
// known, enforced again on the actual bytes). Exactly maxBytes is accepted.
func (s *Saver) Save(username, originalName string, declaredSize int64, src io.Reader) (Stored, error) {
	if !AllowedExt(originalName) {
		return Stored{}, ErrBadType
	}
	if declaredSize > s.maxBytes {
		return Stored{}, ErrTooLarge
	}

	dir, err := s.UserDir(username)
	if err != nil {
		return Stored{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, err
	}

	name := storedName(originalName)
	dst, err := pathsafe.JoinUnder(dir, name)
	if err != nil {
		return Stored{}, err
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Stored{}, err
	}
	// read one byte past the cap so an oversized stream is detected even
	// when the declared size lied
	n, err := io.Copy(f, io.LimitReader(src, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return Stored{}, err
	}
	if n > s.maxBytes {
		_ = os.Remove(dst)
		return Stored{}, ErrTooLarge
	}

	st, err := os.Stat(dst)
	if err != nil {
		return Stored{}, err
	}
	return Stored{
		Owner:      username,
		Name:       name,
		Original:   pathsafe.SanitizeSegment(originalName),
		Ext:        strings.ToLower(filepath.Ext(name)),
		Size:       st.Size(),
		ModifiedAt: st.ModTime(),
	}, nil
}

// List enumerates username's stored files, newest first. A directory that
// does not exist yet yields an empty slice.
func (s *Saver) List(username string) ([]Stored, error) {
	dir, err := s.UserDir(username)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Stored{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Stored, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Stored{
			Owner:      username,
			Name:       e.Name(),
			Ext:        strings.ToLower(filepath.Ext(e.Name())),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// storedName builds "<unixnano>-<hex>-<sanitized original>". The timestamp
// plus 4 random bytes makes clashes practically impossible without any
// global lock.
func storedName(originalName string) string {
	base := pathsafe.SanitizeSegment(originalName)
	ext := strings.ToLower(filepath.Ext(originalName))
	if base == "" || !strings.HasSuffix(strings.ToLower(base), ext) {
		base = "file" + ext
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixNano(), hex.EncodeToString(b[:]), base)
}
