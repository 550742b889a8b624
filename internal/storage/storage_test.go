package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "contracts/lease.signed.pdf", OutputPath("contracts/lease.pdf", "pdf"))
	assert.Equal(t, "book.signed.xlsx", OutputPath("/book.xls", ".xlsx"))
	assert.Equal(t, "noext.signed.pdf", OutputPath("noext", "pdf"))
}

func TestValidatePath(t *testing.T) {
	for _, p := range []string{"a.pdf", "dir/a.pdf", "a..b.pdf"} {
		assert.NoError(t, ValidatePath(NormalizePath(p)), p)
	}
	for _, p := range []string{"", "..", "../etc/passwd", "a/../../b", "a\x00b"} {
		assert.ErrorIs(t, ValidatePath(NormalizePath(p)), ErrInvalidPath, p)
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data := []byte("hello")
	require.NoError(t, m.Put(ctx, "/docs/a.pdf", data, "application/pdf"))
	data[0] = 'j'

	got, err := m.Get(ctx, "docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, "application/pdf", m.ContentType("docs/a.pdf"))
	assert.Equal(t, 1, m.Count())

	u, err := m.SignedURL(ctx, "docs/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory:///docs/a.pdf"))

	_, err = m.Get(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.SignedURL(ctx, "missing.pdf", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newLocal(t *testing.T, maxSize int64) *Local {
	t.Helper()
	l, err := NewLocal(LocalConfig{Root: t.TempDir(), BaseURL: "http://127.0.0.1:8080/files/", Secret: "s3cret", MaxSize: maxSize})
	require.NoError(t, err)
	return l
}

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, 0)

	require.NoError(t, l.Put(ctx, "nested/dir/a.pdf", []byte("%PDF"), "application/pdf"))
	got, err := l.Get(ctx, "nested/dir/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(got))

	_, err = os.Stat(filepath.Join(l.Root(), "nested", "dir", "a.pdf"))
	assert.NoError(t, err)

	_, err = l.Get(ctx, "nested/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(ctx, "nested")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestLocal_Confinement(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, 0)

	_, err := l.Get(ctx, "../outside.pdf")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Error(t, l.Put(ctx, "a/../../outside.pdf", []byte("x"), ""))

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.pdf"), []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(l.Root(), "link")))

	_, err = l.Get(ctx, "link/secret.pdf")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, l.Put(ctx, "link/new.pdf", []byte("x"), ""), ErrPermissionDenied)
}

func TestLocal_MaxSize(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, 4)

	require.NoError(t, l.Put(ctx, "small", []byte("1234"), ""))
	require.NoError(t, l.Put(ctx, "big", []byte("12345"), ""))

	_, err := l.Get(ctx, "small")
	assert.NoError(t, err)
	_, err = l.Get(ctx, "big")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLocal_SignedURL(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, 0)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Put(ctx, "out/lease signed.pdf", []byte("%PDF"), "application/pdf"))

	raw, err := l.SignedURL(ctx, "out/lease signed.pdf", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/files/out/lease signed.pdf", u.Path)
	expires, sig := u.Query().Get("expires"), u.Query().Get("sig")

	assert.NoError(t, l.VerifySignedURL("out/lease signed.pdf", expires, sig))
	assert.ErrorIs(t, l.VerifySignedURL("out/other.pdf", expires, sig), ErrSignatureInvalid)
	assert.ErrorIs(t, l.VerifySignedURL("out/lease signed.pdf", expires, sig[:len(sig)-1]+"0"), ErrSignatureInvalid)
	assert.ErrorIs(t, l.VerifySignedURL("out/lease signed.pdf", "soon", sig), ErrSignatureInvalid)

	now = now.Add(11 * time.Minute)
	assert.ErrorIs(t, l.VerifySignedURL("out/lease signed.pdf", expires, sig), ErrSignatureInvalid)

	_, err = l.SignedURL(ctx, "out/missing.pdf", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_SignedURLNeedsBaseURL(t *testing.T) {
	l, err := NewLocal(LocalConfig{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, l.Put(context.Background(), "a.pdf", []byte("x"), ""))

	_, err = l.SignedURL(context.Background(), "a.pdf", time.Minute)
	assert.ErrorIs(t, err, ErrPresignNotSupported)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func newFakeS3(maxSize int64) (*S3, *fakeS3) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	presign := func(_ context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error) {
		return "https://" + aws.ToString(in.Bucket) + ".example/" + aws.ToString(in.Key) + "?ttl=" + ttl.String(), nil
	}
	return newS3(fake, presign, S3Config{Bucket: "docs", Prefix: "/tenant-a/", MaxSize: maxSize}), fake
}

func TestS3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3(0)

	require.NoError(t, s.Put(ctx, "lease.pdf", []byte("%PDF"), "application/pdf"))
	assert.Contains(t, fake.objects, "tenant-a/lease.pdf")
	assert.Equal(t, "application/pdf", fake.types["tenant-a/lease.pdf"])

	got, err := s.Get(ctx, "lease.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(got))

	u, err := s.SignedURL(ctx, "lease.pdf", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example/tenant-a/lease.pdf?ttl=5m0s", u)
}

func TestS3_Errors(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3(3)

	_, err := s.Get(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	fake.objects["tenant-a/big.pdf"] = []byte("1234")
	_, err = s.Get(ctx, "big.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Get(ctx, "../escape")
	assert.ErrorIs(t, err, ErrInvalidPath)

	fake.err = &smithy.GenericAPIError{Code: "AccessDenied"}
	assert.ErrorIs(t, s.Put(ctx, "a.pdf", nil, ""), ErrPermissionDenied)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
