package s3store_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gestor-ciclista/gestor-api/internal/infra/s3store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(in.Body)
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStorage_PutAndRemove(t *testing.T) {
	api := newFakeS3()
	st := s3store.NewWithAPI(api, "avatars", "https://proj.supabase.co/storage/v1/object/public/", zap.NewNop())

	url, err := st.PutObject(context.Background(), "c-1/a.webp", "image/webp", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co/storage/v1/object/public/avatars/c-1/a.webp", url)
	assert.Equal(t, []byte("img"), api.objects["avatars/c-1/a.webp"])
	assert.Equal(t, "image/webp", api.types["avatars/c-1/a.webp"])

	path, ok := st.ObjectPath(url)
	require.True(t, ok)
	assert.Equal(t, "c-1/a.webp", path)

	require.NoError(t, st.RemoveObject(context.Background(), path))
	assert.Empty(t, api.objects)
}

func TestStorage_ObjectPathForeignURL(t *testing.T) {
	st := s3store.NewWithAPI(newFakeS3(), "avatars", "https://x", zap.NewNop())

	_, ok := st.ObjectPath("https://elsewhere.example.com/photo.jpg")
	assert.False(t, ok)
}

func TestStorage_PutError(t *testing.T) {
	api := newFakeS3()
	api.err = errors.New("boom")
	st := s3store.NewWithAPI(api, "avatars", "https://x", zap.NewNop())

	_, err := st.PutObject(context.Background(), "k", "image/webp", []byte("x"))
	assert.ErrorIs(t, err, api.err)
}
