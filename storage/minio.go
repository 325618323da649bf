package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"VoiceFM/config"
	"VoiceFM/logger"
)

// ErrNotMirrored 对象存储中没有该曲目
var ErrNotMirrored = errors.New("storage: track not mirrored")

// ConnectMinio 创建 MinIO 客户端并确认存储桶存在，不存在时创建
func ConnectMinio(ctx context.Context, cfg *config.Config) (*minio.Client, error) {
	logger.Info("[Minio] 正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket),
		logger.Bool("ssl", cfg.MinioUseSSL))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("[Minio] 成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}
	return client, nil
}

// ObjectStore is the part of *minio.Client the mirror needs.
type ObjectStore interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinioStore is a LocalStore mirrored to a bucket. Saves are uploaded and
// tracks missing locally are restored from the bucket before any fetch.
type MinioStore struct {
	*LocalStore
	objects ObjectStore
	bucket  string
	prefix  string
	// 上传超时
	timeout time.Duration
}

// NewMinioStore wraps local with a bucket mirror under prefix.
func NewMinioStore(local *LocalStore, objects ObjectStore, bucket, prefix string) *MinioStore {
	return &MinioStore{
		LocalStore: local,
		objects:    objects,
		bucket:     bucket,
		prefix:     normalizePrefix(prefix),
		timeout:    2 * time.Minute,
	}
}

// Key is the object name of id.
func (s *MinioStore) Key(id string) string {
	return s.prefix + strings.TrimSpace(id) + AudioExt
}

// Save stores r locally and uploads the result. Upload failures are logged only.
func (s *MinioStore) Save(id string, r io.Reader) (string, error) {
	p, err := s.LocalStore.Save(id, r)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.objects.FPutObject(ctx, s.bucket, s.Key(id), p, minio.PutObjectOptions{ContentType: "audio/mpeg"}); err != nil {
		logger.Warn("[MinioStore] 上传到 MinIO 失败", logger.String("track", id), logger.ErrorField(err))
	} else {
		logger.Debug("[MinioStore] 已上传到 MinIO", logger.String("track", id), logger.String("key", s.Key(id)))
	}
	return p, nil
}

// Restore downloads the mirrored object of id into the local library.
func (s *MinioStore) Restore(ctx context.Context, id string) (string, error) {
	dst, err := s.Path(id)
	if err != nil {
		return "", err
	}
	key := s.Key(id)
	if _, err := s.objects.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%s: %w", key, ErrNotMirrored)
		}
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	if err := s.objects.FGetObject(ctx, s.bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	logger.Info("[MinioStore] 已从 MinIO 恢复曲目", logger.String("track", id))
	return dst, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p) + "/"
}
