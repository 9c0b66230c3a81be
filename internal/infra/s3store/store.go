package s3store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/infra/logging"
)

// DefaultPresignExpiry is used by Presign when no expiry is given.
const DefaultPresignExpiry = 24 * time.Hour

// ErrForbiddenKey is returned when a key is outside the caller's prefix.
var ErrForbiddenKey = errors.New("object key does not belong to user")

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs time-limited GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store uploads render artifacts privately and hands out presigned URLs.
type Store struct {
	api           ObjectAPI
	presigner     Presigner
	bucket        string
	expiry        time.Duration
	uploadTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// Upload describes a stored artifact.
type Upload struct {
	Key         string
	URL         string
	Bytes       int64
	ContentType string
	ExpiresAt   time.Time
}

// Object is a listed artifact.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// New builds a Store from explicit clients.
func New(api ObjectAPI, presigner Presigner, cfg config.StorageConfig) *Store {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Store{
		api:           api,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		expiry:        expiry,
		uploadTimeout: cfg.UploadTimeout,
		now:           time.Now,
		newID:         func() string { return uuid.NewString()[:8] },
	}
}

// NewFromConfig builds an AWS S3 client (static credentials when configured,
// the default credential chain otherwise) and wraps it in a Store.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(client, s3.NewPresignClient(client), cfg), nil
}

// UserPrefix is the key prefix owned by a user.
func UserPrefix(userID string) string {
	return "users/" + userID + "/"
}

// Key names an artifact: users/{user}/renders/{YYYYmmdd_HHMMSS}_{id}[_job_{job}]{ext},
// or renders/... without a user.
func Key(userID, jobID string, now time.Time, id, ext string) string {
	var b strings.Builder
	if userID != "" {
		b.WriteString(UserPrefix(userID))
	}
	b.WriteString("renders/")
	b.WriteString(now.Format("20060102_150405"))
	b.WriteString("_")
	b.WriteString(id)
	if jobID != "" {
		b.WriteString("_job_")
		b.WriteString(jobID)
	}
	b.WriteString(ext)
	return b.String()
}

// Upload stores the file at path and returns a presigned GET URL.
func (s *Store) Upload(ctx context.Context, path, userID, jobID string) (*Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Wrap(domain.KindUploadFailed, "Upload failed", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, domain.Wrap(domain.KindUploadFailed, "Upload failed", err)
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	key := Key(userID, jobID, s.now().UTC(), s.newID(), strings.ToLower(filepath.Ext(path)))
	contentType := domain.ContentTypeFor(path)

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(st.Size()),
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindUploadFailed, "Upload failed", err)
	}

	url, err := s.presign(ctx, key, s.expiry)
	if err != nil {
		return nil, domain.Wrap(domain.KindUploadFailed, "Upload failed: cannot sign URL", err)
	}

	logging.Info("Uploaded render", "bucket", s.bucket, "key", key, "bytes", st.Size())
	return &Upload{
		Key:         key,
		URL:         url,
		Bytes:       st.Size(),
		ContentType: contentType,
		ExpiresAt:   s.now().Add(s.expiry),
	}, nil
}

// List returns the user's stored renders.
func (s *Store) List(ctx context.Context, userID string) ([]Object, error) {
	prefix := UserPrefix(userID) + "renders/"
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var out []Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return out, nil
}

// Delete removes a key owned by userID.
func (s *Store) Delete(ctx context.Context, userID, key string) error {
	if !Owns(userID, key) {
		return ErrForbiddenKey
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	logging.Info("Deleted render", "bucket", s.bucket, "key", key)
	return nil
}

// Presign issues a new URL for a key owned by userID. A non-positive expiry
// uses DefaultPresignExpiry; values above the store maximum are clamped.
func (s *Store) Presign(ctx context.Context, userID, key string, expiry time.Duration) (string, error) {
	if !Owns(userID, key) {
		return "", ErrForbiddenKey
	}
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	if expiry > s.expiry {
		expiry = s.expiry
	}
	return s.presign(ctx, key, expiry)
}

// Expiry is the lifetime of URLs returned by Upload.
func (s *Store) Expiry() time.Duration { return s.expiry }

func (s *Store) presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Owns reports whether key lives under the user's prefix.
func Owns(userID, key string) bool {
	return domain.ValidID(userID) && strings.HasPrefix(key, UserPrefix(userID)) && !strings.Contains(key, "..")
}
