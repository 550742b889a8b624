package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalConfig configures the filesystem backend
type LocalConfig struct {
	// Root is the only directory the store reads or writes
	Root string
	// BaseURL prefixes signed download URLs, e.g. http://127.0.0.1:8080/files
	BaseURL string
	// Secret keys the HMAC over signed URLs; a random key is generated when empty
	Secret string
	// MaxSize bounds Get; zero means unlimited
	MaxSize int64
}

// Local stores objects as files under a root directory
type Local struct {
	root    string
	baseURL string
	secret  []byte
	maxSize int64
	now     func() time.Time
}

// NewLocal creates the root if needed and returns the store
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: Root is required", ErrInvalidConfig)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("storage: generate signing key: %w", err)
		}
	}

	return &Local{
		root:    root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  secret,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}, nil
}

// Backend returns the backend type identifier
func (l *Local) Backend() string {
	return "local"
}

// Root returns the absolute root directory
func (l *Local) Root() string {
	return l.root
}

// fullPath maps an object path to a file under root, refusing anything that escapes it
// lexically or through a symlink
func (l *Local) fullPath(path string) (string, error) {
	p, err := clean(path)
	if err != nil {
		return "", err
	}
	full := filepath.Join(l.root, filepath.FromSlash(p))

	within, err := l.isWithinRoot(full)
	if err != nil {
		return "", err
	}
	if !within {
		return "", fmt.Errorf("%w: %s is outside the storage root", ErrPermissionDenied, path)
	}
	return full, nil
}

func (l *Local) isWithinRoot(full string) (bool, error) {
	realRoot := l.root
	if resolved, err := filepath.EvalSymlinks(l.root); err == nil {
		realRoot = resolved
	}

	if !hasDirPrefix(filepath.Clean(full), l.root) {
		return false, nil
	}

	// the nearest existing ancestor decides where a symlinked path really points
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return false, nil
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return false, fmt.Errorf("storage: resolve %s: %w", existing, err)
	}
	return hasDirPrefix(real, realRoot) || hasDirPrefix(real, l.root), nil
}

func hasDirPrefix(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// Get reads an object, enforcing MaxSize
func (l *Local) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, translateFSError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, translateFSError(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}
	if l.maxSize > 0 && info.Size() > l.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, path, info.Size(), l.maxSize)
	}
	return io.ReadAll(f)
}

// Put writes through a temp file and rename so readers never see partial output
func (l *Local) Put(ctx context.Context, path string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("storage: commit %s: %w", path, err)
	}
	return nil
}

// SignedURL returns BaseURL/<path>?expires=<unix>&sig=<hmac>
func (l *Local) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.baseURL == "" {
		return "", ErrPresignNotSupported
	}
	p, err := clean(path)
	if err != nil {
		return "", err
	}
	full, err := l.fullPath(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", translateFSError(path, err)
	}

	expires := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", l.sign(p, expires))
	return l.baseURL + "/" + escapePath(p) + "?" + q.Encode(), nil
}

// VerifySignedURL checks the expires and sig query values issued by SignedURL for path
func (l *Local) VerifySignedURL(path, expires, sig string) error {
	p, err := clean(path)
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if l.now().Unix() > exp {
		return ErrSignatureInvalid
	}
	want := l.sign(p, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

func (l *Local) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s\n%d", path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func translateFSError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("storage: %s: %w", path, err)
	}
}
