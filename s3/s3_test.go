package s3

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method, path, copySource string
	body                     []byte
}

// fakeS3 answers like S3 and records what it receives.
type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
	errCode  string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:     r.Method,
		path:       r.URL.Path,
		copySource: r.Header.Get("X-Amz-Copy-Source"),
		body:       body,
	})
	f.mu.Unlock()

	if f.errCode != "" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + f.errCode + `</Code><Message>denied</Message></Error>`))
		return
	}
	switch {
	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><CopyObjectResult><ETag>"abc"</ETag></CopyObjectResult>`))
	default:
		w.Header().Set("ETag", `"abc"`)
	}
}

func newStorage(t *testing.T, creds *credentials.Credentials) (*ObjectStorageImpl, *fakeS3) {
	t.Helper()

	fake := &fakeS3{}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String("ap-southeast-2"),
		Credentials:      creds,
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(true),
		MaxRetries:       aws.Int(0),
	})
	require.NoError(t, err)
	return New(sess, "bucket"), fake
}

func staticCredentials() *credentials.Credentials {
	return credentials.NewStaticCredentials("AKID", "SECRET", "")
}

func TestObjectStorageImpl_Upload(t *testing.T) {
	storage, fake := newStorage(t, staticCredentials())

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/scratch/temp-req.zip", []byte("PK archive"), 0o600))
	f, err := fs.Open("/scratch/temp-req.zip")
	require.NoError(t, err)
	defer f.Close()

	err = storage.Upload(context.Background(), "file-uploads/42/req.zip", f)
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, http.MethodPut, fake.requests[0].method)
	assert.Equal(t, "/bucket/file-uploads/42/req.zip", fake.requests[0].path)
	assert.Equal(t, "PK archive", string(fake.requests[0].body))
}

func TestObjectStorageImpl_Copy(t *testing.T) {
	storage, fake := newStorage(t, staticCredentials())

	err := storage.Copy(context.Background(), "file-uploads/42/req.zip", "dwca-imports/dr1/dr1.zip")
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, http.MethodPut, fake.requests[0].method)
	assert.Equal(t, "/bucket/dwca-imports/dr1/dr1.zip", fake.requests[0].path)
	assert.Equal(t, "bucket/file-uploads/42/req.zip", fake.requests[0].copySource)
}

func TestObjectStorageImpl_Errors(t *testing.T) {
	t.Run("Expired credentials", func(t *testing.T) {
		storage, fake := newStorage(t, staticCredentials())
		fake.errCode = "ExpiredToken"

		err := storage.Copy(context.Background(), "a.zip", "b.zip")
		assert.Equal(t, ErrCredentialsExpired, errors.Cause(err))
	})

	t.Run("Other service error", func(t *testing.T) {
		storage, fake := newStorage(t, staticCredentials())
		fake.errCode = "NoSuchBucket"

		err := storage.Upload(context.Background(), "a.zip", bytes.NewReader([]byte("x")))
		require.Error(t, err)
		assert.NotEqual(t, ErrCredentialsExpired, errors.Cause(err))
		assert.NotEqual(t, ErrNoCredentials, errors.Cause(err))
	})

	t.Run("No credentials", func(t *testing.T) {
		storage, fake := newStorage(t, credentials.NewChainCredentials(nil))

		err := storage.Copy(context.Background(), "a.zip", "b.zip")
		assert.Equal(t, ErrNoCredentials, errors.Cause(err))
		assert.Empty(t, fake.requests)
	})
}

func TestObjectStorageImpl_URI(t *testing.T) {
	storage := NewWithClient(s3.New(session.Must(session.NewSession(&aws.Config{Region: aws.String("x")}))), "bucket")
	assert.Equal(t, "s3://bucket/dwca-imports/dr1/dr1.zip", storage.URI("dwca-imports/dr1/dr1.zip"))
	assert.Equal(t, "s3://bucket/a.zip", storage.URI("/a.zip"))
}

func Test_copySource(t *testing.T) {
	assert.Equal(t, "b/dir/with%20space.zip", copySource("b", "dir/with space.zip"))
	assert.True(t, strings.HasPrefix(copySource("b", "x"), "b/"))
}
