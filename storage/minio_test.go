package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	puts    []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) FPutObject(_ context.Context, bucket, object, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, object)
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = data
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(data))}, nil
}

func (f *fakeObjects) FGetObject(_ context.Context, _, object, filePath string, _ minio.GetObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return f.getErr
	}
	return os.WriteFile(filePath, f.objects[object], 0o644)
}

func (f *fakeObjects) StatObject(_ context.Context, _, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[object]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", Key: object, StatusCode: 404}
	}
	return minio.ObjectInfo{Key: object, Size: int64(len(data))}, nil
}

func TestMinioStoreKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "42.mp3"},
		{"audio", "audio/42.mp3"},
		{"/audio/", "audio/42.mp3"},
		{" audio//netease ", "audio/netease/42.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s := NewMinioStore(newTestStore(t), newFakeObjects(), "music", tt.prefix)
			assert.Equal(t, tt.want, s.Key("42"))
		})
	}
}

func TestMinioStoreSaveUploads(t *testing.T) {
	objects := newFakeObjects()
	s := NewMinioStore(newTestStore(t), objects, "music", "audio")

	p, err := s.Save("7", strings.NewReader("mp3 bytes"))
	require.NoError(t, err)

	_, ok := s.Exists("7")
	assert.True(t, ok)
	assert.Equal(t, []byte("mp3 bytes"), objects.objects["audio/7.mp3"])

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "mp3 bytes", string(data))
}

func TestMinioStoreSaveSurvivesUploadFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("connection refused")
	s := NewMinioStore(newTestStore(t), objects, "music", "")

	_, err := s.Save("7", strings.NewReader("x"))
	require.NoError(t, err)
	_, ok := s.Exists("7")
	assert.True(t, ok)
	assert.Equal(t, []string{"7.mp3"}, objects.puts)
}

func TestMinioStoreRestore(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["audio/9.mp3"] = []byte("restored")
	s := NewMinioStore(newTestStore(t), objects, "music", "audio")

	p, err := s.Restore(context.Background(), "9")
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "restored", string(data))

	_, err = s.Restore(context.Background(), "10")
	assert.ErrorIs(t, err, ErrNotMirrored)

	_, err = s.Restore(context.Background(), "../x")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMinioStoreRestoreDownloadFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["9.mp3"] = []byte("x")
	objects.getErr = errors.New("reset by peer")
	s := NewMinioStore(newTestStore(t), objects, "music", "")

	_, err := s.Restore(context.Background(), "9")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotMirrored)
	_, ok := s.Exists("9")
	assert.False(t, ok)
}
