package dwca

import (
	"fmt"
	"path/filepath"

	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Intake stores uploaded archives in a scratch directory while they are
// being inspected.
type Intake struct {
	fs     afero.Fs
	dir    string
	logger logrus.FieldLogger
}

// NewIntake returns an Intake writing scratch files into dir of fs.
func NewIntake(fs afero.Fs, dir string, logger logrus.FieldLogger) *Intake {
	return &Intake{fs: fs, dir: dir, logger: logger}
}

// Open persists data to a scratch file, opens it as an archive and passes it
// to fn. The scratch file is removed when Open returns, whatever the outcome,
// so the archive must not be used after fn returns.
//
// Failures to open the archive are reported as gateway errors: MissingFile,
// UploadError, InvalidArchive, BadlyFormedMetaXML or UnsupportedCoreType.
// Errors returned by fn are passed through unchanged.
func (i *Intake) Open(requestID string, data []byte, fn func(*Archive) error) error {
	if len(data) == 0 {
		return gErrors.New(gErrors.MissingFile, "no archive was uploaded")
	}

	name := filepath.Join(i.dir, fmt.Sprintf("temp-%s.zip", requestID))
	if err := i.fs.MkdirAll(i.dir, 0o750); err != nil {
		return gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "cannot create scratch directory"))
	}
	f, err := i.fs.Create(name)
	if err != nil {
		return gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "cannot create scratch file"))
	}
	defer func() {
		_ = f.Close()
		if err := i.fs.Remove(name); err != nil {
			i.logger.WithError(err).WithField("path", name).Warn("Scratch file could not be removed")
		}
	}()

	if _, err := f.Write(data); err != nil {
		return gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "cannot write scratch file"))
	}

	archive, err := readArchive(i.fs, name, f, int64(len(data)))
	if err != nil {
		return classify(err)
	}
	if !SupportedCoreTypes[archive.CoreType] {
		return gErrors.New(gErrors.UnsupportedCoreType,
			"core type %s is not supported, use an Occurrence or Event core", archive.DatasetType())
	}

	i.logger.WithFields(logrus.Fields{
		"requestID": requestID,
		"coreType":  archive.DatasetType(),
		"eml":       archive.HasMetadata(),
	}).Debug("Archive opened")

	return fn(archive)
}

func classify(err error) error {
	switch errors.Cause(err) {
	case ErrNotArchive, ErrMissingDescriptor:
		return gErrors.NewWithError(gErrors.InvalidArchive, err)
	case ErrBadDescriptor:
		return gErrors.NewWithError(gErrors.BadlyFormedMetaXML, err)
	default:
		return gErrors.NewWithError(gErrors.InvalidArchive, err)
	}
}
