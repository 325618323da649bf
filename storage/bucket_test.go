package storage

import (
	"context"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucketAPI struct {
	objects []minio.ObjectInfo
	removed []string
}

func (f *fakeBucketAPI) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for _, o := range f.objects {
		if len(o.Key) >= len(opts.Prefix) && o.Key[:len(opts.Prefix)] == opts.Prefix {
			ch <- o
		}
	}
	close(ch)
	return ch
}

func (f *fakeBucketAPI) RemoveObjects(_ context.Context, _ string, objectsCh <-chan minio.ObjectInfo, _ minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	for o := range objectsCh {
		f.removed = append(f.removed, o.Key)
	}
	ch := make(chan minio.RemoveObjectError)
	close(ch)
	return ch
}

func sampleBucket() *fakeBucketAPI {
	newest := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &fakeBucketAPI{objects: []minio.ObjectInfo{
		{Key: "audio/2.mp3", Size: 200, LastModified: newest.Add(-time.Hour)},
		{Key: "audio/1.mp3", Size: 100, LastModified: newest},
		{Key: "covers/1", Size: 10, LastModified: newest.Add(-2 * time.Hour)},
	}}
}

func TestBucketList(t *testing.T) {
	b := NewBucket(sampleBucket(), "music")
	assert.Equal(t, "music", b.Name())

	objects, stats, err := b.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, "audio/1.mp3", objects[0].Key)
	assert.Equal(t, int64(3), stats.TotalObjects)
	assert.Equal(t, int64(310), stats.TotalSize)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), stats.LastModified)
	assert.Equal(t, map[string]int64{"mp3": 2, "unknown": 1}, stats.ByExt)

	objects, _, err = b.List(context.Background(), "audio/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestBucketDeletePrefix(t *testing.T) {
	api := sampleBucket()
	b := NewBucket(api, "music")

	_, err := b.DeletePrefix(context.Background(), " ")
	require.Error(t, err)

	_, err = b.DeletePrefix(context.Background(), "missing/")
	require.Error(t, err)

	n, err := b.DeletePrefix(context.Background(), "audio/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"audio/1.mp3", "audio/2.mp3"}, api.removed)
}

func TestExtOf(t *testing.T) {
	assert.Equal(t, "mp3", extOf("a/b.MP3"))
	assert.Equal(t, "flac", extOf("x.flac"))
	assert.Equal(t, "unknown", extOf("noext"))
}
