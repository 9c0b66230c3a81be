package s3store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"logorender/internal/config"
	"logorender/internal/domain"
)

type fakeObject struct {
	body        []byte
	contentType string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = fakeObject{body: body, contentType: aws.ToString(in.ContentType)}
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k].body)))})
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	lastExpiry time.Duration
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.lastExpiry = opts.Expires
	return &v4.PresignedHTTPRequest{
		Method: "GET",
		URL:    "https://" + aws.ToString(in.Bucket) + ".s3.example/" + aws.ToString(in.Key) + "?X-Amz-Expires=" + opts.Expires.String(),
	}, nil
}

func newTestStore(api *fakeS3, p *fakePresigner) *Store {
	s := New(api, p, config.StorageConfig{Bucket: "renders", PresignExpiry: 7 * 24 * time.Hour})
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	s.newID = func() string { return "abcd1234" }
	return s
}

func writeArtifact(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return p
}

func TestKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "users/alice/renders/20260102_030405_abcd1234_job_j1.mp4", Key("alice", "j1", now, "abcd1234", ".mp4"))
	assert.Equal(t, "renders/20260102_030405_abcd1234.mp4", Key("", "", now, "abcd1234", ".mp4"))
	assert.Equal(t, "users/bob/renders/20260102_030405_abcd1234.webm", Key("bob", "", now, "abcd1234", ".webm"))
}

func TestUpload_PrivateWithPresignedURL(t *testing.T) {
	api, p := newFakeS3(), &fakePresigner{}
	s := newTestStore(api, p)

	up, err := s.Upload(context.Background(), writeArtifact(t, "output.mp4", "video"), "alice", "j1")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	assert.Equal(t, "users/alice/renders/20260304_050607_abcd1234_job_j1.mp4", up.Key)
	assert.Equal(t, int64(5), up.Bytes)
	assert.Equal(t, "video/mp4", up.ContentType)
	assert.Contains(t, up.URL, up.Key)
	assert.Equal(t, 7*24*time.Hour, p.lastExpiry)
	assert.Equal(t, "video", string(api.objects[up.Key].body))
	assert.Equal(t, "video/mp4", api.objects[up.Key].contentType)
}

func TestUpload_Failure(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("AccessDenied")
	s := newTestStore(api, &fakePresigner{})

	_, err := s.Upload(context.Background(), writeArtifact(t, "output.mp4", "video"), "alice", "j1")
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("expected upload_failed, got %v", err)
	}
	assert.Contains(t, err.Error(), "AccessDenied")

	if _, err := s.Upload(context.Background(), "/definitely/missing.mp4", "alice", ""); !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("expected upload_failed for missing file, got %v", err)
	}
}

func TestListDeleteAndPresign_ScopedToUser(t *testing.T) {
	api, p := newFakeS3(), &fakePresigner{}
	s := newTestStore(api, p)
	ctx := context.Background()

	mine, err := s.Upload(ctx, writeArtifact(t, "a.mp4", "a"), "alice", "j1")
	assert.NoError(t, err)
	s.newID = func() string { return "ffff0000" }
	theirs, err := s.Upload(ctx, writeArtifact(t, "b.mp4", "bb"), "bob", "j2")
	assert.NoError(t, err)

	objs, err := s.List(ctx, "alice")
	assert.NoError(t, err)
	if assert.Len(t, objs, 1) {
		assert.Equal(t, mine.Key, objs[0].Key)
		assert.Equal(t, int64(1), objs[0].Size)
	}

	assert.ErrorIs(t, s.Delete(ctx, "alice", theirs.Key), ErrForbiddenKey)
	_, err = s.Presign(ctx, "alice", theirs.Key, 0)
	assert.ErrorIs(t, err, ErrForbiddenKey)

	url, err := s.Presign(ctx, "alice", mine.Key, 0)
	assert.NoError(t, err)
	assert.Contains(t, url, mine.Key)
	assert.Equal(t, DefaultPresignExpiry, p.lastExpiry)

	_, err = s.Presign(ctx, "alice", mine.Key, 30*24*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, p.lastExpiry, "expiry is clamped to the store maximum")

	assert.NoError(t, s.Delete(ctx, "alice", mine.Key))
	objs, _ = s.List(ctx, "alice")
	assert.Empty(t, objs)
}

func TestOwns(t *testing.T) {
	assert.True(t, Owns("alice", "users/alice/renders/x.mp4"))
	assert.False(t, Owns("alice", "users/alicex/renders/x.mp4"))
	assert.False(t, Owns("alice", "users/alice/../bob/renders/x.mp4"))
	assert.False(t, Owns("", "users//renders/x.mp4"))
	assert.False(t, Owns("alice", "renders/x.mp4"))
}
