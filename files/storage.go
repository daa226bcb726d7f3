// Package files stores message attachments in an S3-compatible object store
// and proxies them back to authenticated clients.
package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/domain"
)

type Storage struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	maxBytes      int64
	logger        *slog.Logger
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg config.FilesConfig, logger *slog.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Storage{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		maxBytes:      cfg.MaxUploadBytes,
		logger:        logger,
	}, nil
}

// Upload describes an accepted attachment.
type Upload struct {
	ObjectKey    string
	FileURL      string
	ThumbnailURL string
	MimeType     string
	Size         int64
}

// Store validates and uploads an attachment under the conversation's prefix.
// declaredMIME is trusted only for encrypted blobs, whose bytes the server
// cannot inspect. Plaintext images additionally get a JPEG thumbnail.
func (s *Storage) Store(ctx context.Context, conversationID, fileName string, r io.Reader, declaredMIME string, encrypted bool) (*Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, domain.ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrValidation)
	}

	mimeType := declaredMIME
	if !encrypted {
		mimeType = SniffMIME(data)
	}
	if !Allowed(mimeType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, mimeType)
	}

	key := objectKey(conversationID, fileName)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}

	up := &Upload{
		ObjectKey: key,
		MimeType:  mimeType,
		Size:      int64(len(data)),
	}
	up.FileURL, err = s.objectURL(ctx, key)
	if err != nil {
		return nil, err
	}

	if !encrypted && strings.HasPrefix(mimeType, "image/") {
		thumbKey, err := s.storeThumbnail(ctx, key, data)
		if err != nil {
			// Thumbnails are best-effort; the original is already stored.
			s.logger.Warn("thumbnail generation failed", "object_key", key, "error", err)
		} else {
			up.ThumbnailURL, err = s.objectURL(ctx, thumbKey)
			if err != nil {
				return nil, err
			}
		}
	}
	return up, nil
}

// Fetch streams an object back for the proxy endpoint. Only URLs pointing at
// the configured bucket are served.
func (s *Storage) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, int64, error) {
	key, err := s.keyFromURL(rawURL)
	if err != nil {
		return nil, "", 0, err
	}

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", 0, domain.ErrNotFound
		}
		return nil, "", 0, fmt.Errorf("stat object: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", 0, fmt.Errorf("get object: %w", err)
	}
	return obj, stat.ContentType, stat.Size, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *Storage) objectURL(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + s.bucket + "/" + key, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func (s *Storage) keyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: malformed url", domain.ErrValidation)
	}
	if u.Host != s.client.EndpointURL().Host && !s.isPublicHost(u.Host) {
		return "", fmt.Errorf("%w: host not allowed", domain.ErrForbidden)
	}

	path := strings.TrimPrefix(u.Path, "/")
	key, ok := strings.CutPrefix(path, s.bucket+"/")
	if !ok {
		return "", fmt.Errorf("%w: unknown bucket", domain.ErrForbidden)
	}
	if key == "" {
		return "", fmt.Errorf("%w: missing object key", domain.ErrValidation)
	}
	return key, nil
}

func (s *Storage) isPublicHost(host string) bool {
	if s.publicBaseURL == "" {
		return false
	}
	u, err := url.Parse(s.publicBaseURL)
	return err == nil && u.Host == host
}

func objectKey(conversationID, fileName string) string {
	return "messages/" + conversationID + "/" + uuid.NewString() + "_" + SafeName(fileName)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
