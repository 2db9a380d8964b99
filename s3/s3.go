package s3

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

var (
	// ErrNoCredentials is returned when no AWS credentials could be found.
	ErrNoCredentials = errors.New("storage credentials not available")

	// ErrCredentialsExpired is returned when the credentials were rejected.
	ErrCredentialsExpired = errors.New("storage credentials not available or expired")
)

// ObjectStorage is a S3-compatible storage interface scoped to one bucket.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	URI(key string) string
}

// ObjectStorageImpl is our implementation of the ObjectStorage interface.
type ObjectStorageImpl struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
}

var _ ObjectStorage = (*ObjectStorageImpl)(nil)

// New returns a pointer to a new ObjectStorageImpl.
func New(sess *session.Session, bucket string) *ObjectStorageImpl {
	return NewWithClient(s3.New(sess), bucket)
}

// NewWithClient returns a pointer to a new ObjectStorageImpl using client.
func NewWithClient(client s3iface.S3API, bucket string) *ObjectStorageImpl {
	return &ObjectStorageImpl{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   bucket,
	}
}

// Upload stores the contents of body under key.
func (s *ObjectStorageImpl) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/zip"),
	})
	return classify(err, "upload of %s failed", key)
}

// Copy duplicates the object at srcKey into dstKey. The source is kept.
func (s *ObjectStorageImpl) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(s.bucket, srcKey)),
	})
	return classify(err, "copy of %s to %s failed", srcKey, dstKey)
}

// URI returns the s3:// location of key.
func (s *ObjectStorageImpl) URI(key string) string {
	return "s3://" + s.bucket + "/" + strings.TrimPrefix(key, "/")
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// Error codes returned by AWS when the credentials are no longer valid.
var expiredCodes = map[string]bool{
	"ExpiredToken":          true,
	"ExpiredTokenException": true,
	"RequestExpired":        true,
	"InvalidAccessKeyId":    true,
	"InvalidToken":          true,
	"SignatureDoesNotMatch": true,
	"AccessDenied":          true,
}

func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	for e := err; e != nil; {
		aerr, ok := e.(awserr.Error)
		if !ok {
			break
		}
		switch {
		case aerr.Code() == "NoCredentialProviders":
			return errors.Wrapf(ErrNoCredentials, format, args...)
		case expiredCodes[aerr.Code()]:
			return errors.Wrapf(ErrCredentialsExpired, format+": %s", append(args, aerr.Code())...)
		}
		e = aerr.OrigErr()
	}
	return errors.Wrapf(err, format, args...)
}
