package gateway

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/biodiversity-data/publishing-gateway/auth"
	"github.com/biodiversity-data/publishing-gateway/dwca"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/validator"
)

// Terms of the core file plotted on the map preview.
const (
	termLatitude  = "decimalLatitude"
	termLongitude = "decimalLongitude"
)

// Upload is an archive submitted by a client.
type Upload struct {
	FileName string
	Data     []byte
	Identity *auth.Identity
}

// ValidationResponse is the outcome of the validation of an upload. TempPath
// is only set when the archive is valid and has been staged.
type ValidationResponse struct {
	Valid                bool            `json:"valid"`
	DatasetType          string          `json:"datasetType"`
	Breakdowns           json.RawMessage `json:"breakdowns,omitempty"`
	FileName             string          `json:"fileName"`
	RequestID            string          `json:"requestID"`
	TempPath             string          `json:"tempPath,omitempty"`
	Metadata             *dwca.Metadata  `json:"metadata,omitempty"`
	HasEML               bool            `json:"hasEml"`
	CoreValidation       json.RawMessage `json:"coreValidation,omitempty"`
	ExtensionValidations json.RawMessage `json:"extensionValidations,omitempty"`
	MapImage             string          `json:"mapImage,omitempty"`
	Issues               []string        `json:"issues,omitempty"`
}

func newValidationResponse(up *Upload, requestID string, report *validator.Report) *ValidationResponse {
	return &ValidationResponse{
		Valid:                report.Valid,
		DatasetType:          report.DatasetType,
		Breakdowns:           report.Breakdowns,
		FileName:             up.FileName,
		RequestID:            requestID,
		CoreValidation:       report.CoreValidation,
		ExtensionValidations: report.ExtensionValidations,
		Issues:               report.Issues,
	}
}

// Validate checks an upload and, when it is valid, stages it for a later
// Publish. Invalid archives are reported in the response, not as errors.
func (g *Gateway) Validate(ctx context.Context, up *Upload) (res *ValidationResponse, err error) {
	defer g.observe("validate", &err)

	id := up.Identity
	if id == nil {
		return nil, gErrors.New(gErrors.Unauthenticated, "Please provide authentication details")
	}

	requestID := g.newID()
	logger := g.logger.WithFields(logrus.Fields{"requestID": requestID, "user": id.ID})
	logger.Info("Validation request received")

	err = g.intake.Open(requestID, up.Data, func(archive *dwca.Archive) error {
		var md dwca.Metadata
		if archive.HasMetadata() {
			md = *archive.Metadata
		}
		report, err := validator.Evaluate(ctx, g.validator, archive, md, g.licences)
		if err != nil {
			return gErrors.NewWithError(gErrors.SystemError, errors.Wrap(err, "Problem reaching the validation service"))
		}
		res = newValidationResponse(up, requestID, report)
		res.HasEML = archive.HasMetadata()

		if res.MapImage, err = g.preview(archive); err != nil {
			return err
		}
		if !report.Valid {
			logger.WithField("issues", report.Issues).Info("Archive failed validation")
			return nil
		}

		tempPath := TempPath(id.ID, requestID)
		if err := g.stage(ctx, archive, tempPath); err != nil {
			return err
		}
		res.TempPath = tempPath
		res.Metadata = &md
		logger.WithField("tempPath", tempPath).Info("Archive staged")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// preview renders the map of the core coordinates. Archives without
// coordinate columns get an empty map.
func (g *Gateway) preview(archive *dwca.Archive) (string, error) {
	if g.previewer == nil {
		return "", nil
	}
	rows, complete, err := archive.CoreValues(termLatitude, termLongitude)
	if err != nil {
		return "", gErrors.NewWithError(gErrors.InvalidArchive, err)
	}
	if !complete {
		rows = nil
	}
	return g.previewer.Render(rows)
}

func (g *Gateway) stage(ctx context.Context, archive *dwca.Archive, tempPath string) error {
	f, err := archive.Open()
	if err != nil {
		return gErrors.NewWithError(gErrors.UploadError, errors.Wrap(err, "scratch file could not be opened"))
	}
	defer f.Close()
	if err := g.storage.Upload(ctx, g.stagingKey(tempPath), f); err != nil {
		return storageError(err)
	}
	return nil
}
