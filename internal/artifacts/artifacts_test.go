package artifacts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photon-dev/photon/internal/errors"
)

func TestFSStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(filepath.Join(dir, "out"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "photon/entries.json", strings.NewReader(`{"version":1}`), "application/json"))
	require.NoError(t, store.Put(ctx, "photon/entries.json", strings.NewReader(`{"version":2}`), "application/json"))

	data, err := os.ReadFile(filepath.Join(dir, "out", "photon", "entries.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(data))
	assert.Equal(t, filepath.Join(dir, "out", "photon", "entries.json"), store.Location("photon/entries.json"))

	leftovers, err := filepath.Glob(filepath.Join(dir, "out", "photon", ".photon-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFSStoreStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(filepath.Join(dir, "out"))
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), "text/plain"))
	_, err = os.Stat(filepath.Join(dir, "out", "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), "/", strings.NewReader("x"), "text/plain"))
}

func TestFSStoreCanceled(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Put(ctx, "a", strings.NewReader("x"), "text/plain"), context.Canceled)
}

type fakeS3 struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies []string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3Store(fake, "bucket", "builds/42")

	require.NoError(t, store.Put(context.Background(), "photon/entries.json", strings.NewReader("{}"), "application/json"))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "builds/42/photon/entries.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Contains(t, in.Metadata, "publish-time")
	assert.Equal(t, "{}", fake.bodies[0])
	assert.Equal(t, "s3://bucket/builds/42/photon/entries.json", store.Location("photon/entries.json"))

	assert.Equal(t, "s3://bucket/a.json", NewS3Store(fake, "bucket", "").Location("a.json"))
}

func TestS3ClientAgainstEndpoint(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		ctype  string
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path, ctype, auth = r.Method, r.URL.Path, r.Header.Get("Content-Type"), r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := NewS3Client(S3Options{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        srv.URL,
		PathStyle:       true,
	})
	store := NewS3Store(client, "artifacts", "site")
	require.NoError(t, store.Put(context.Background(), "photon/entries.json", strings.NewReader(`{"version":1}`), "application/json"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/artifacts/site/photon/entries.json", path)
	assert.Equal(t, "application/json", ctype)
	assert.Contains(t, auth, "AKIDEXAMPLE")
}

func TestS3OptionsFromEnv(t *testing.T) {
	t.Setenv("AWS_REGION", "ap-south-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "id")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("PHOTON_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("PHOTON_S3_PATH_STYLE", "true")

	opts, err := S3OptionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, S3Options{
		Region:          "ap-south-1",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		Endpoint:        "http://localhost:9000",
		PathStyle:       true,
	}, opts)

	t.Setenv("PHOTON_S3_PATH_STYLE", "maybe")
	_, err = S3OptionsFromEnv()
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open("file://" + filepath.ToSlash(dir))
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, store)

	store, err = Open("s3://bucket/prefix/dir?region=eu-central-1&path-style=true")
	require.NoError(t, err)
	require.IsType(t, &S3Store{}, store)
	assert.Equal(t, "s3://bucket/prefix/dir/x.json", store.Location("x.json"))

	tests := []struct {
		name   string
		target string
	}{
		{"unknown scheme", "ftp://host/dir"},
		{"no scheme", "just/a/dir"},
		{"no bucket", "s3:///prefix"},
		{"bad path style", "s3://bucket?path-style=maybe"},
		{"empty file", "file://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.target)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, "P181"), err.Error())
		})
	}
}
