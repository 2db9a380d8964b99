package gateway

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/biodiversity-data/publishing-gateway/dwca"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
)

// ProcessResult is the outcome of Process: either the dataset was published
// or the archive failed structural validation.
type ProcessResult struct {
	Published *Result
	Rejected  *ValidationResponse
}

// Process validates and publishes an upload in one step, using the metadata
// of its EML document. When dataResourceUID is set the upload replaces that
// dataset.
func (g *Gateway) Process(ctx context.Context, up *Upload, dataResourceUID string) (res *ProcessResult, err error) {
	defer g.observe("process", &err)

	id := up.Identity
	if !id.CanPublish() {
		return nil, gErrors.New(gErrors.NotAuthorized, "You are not authorised to publish datasets")
	}

	runID := g.newID()
	err = g.intake.Open(runID, up.Data, func(archive *dwca.Archive) error {
		var md dwca.Metadata
		if archive.HasMetadata() {
			md = *archive.Metadata
		}
		if len(md.MissingFields()) > 0 {
			return gErrors.New(gErrors.MissingRequiredField,
				"Missing required fields. name, licenceUrl and pubDescription must be present in EML to pass validation")
		}
		if _, ok := g.licences.Resolve(md.LicenceURL); !ok {
			return gErrors.New(gErrors.UnrecognisedLicence,
				"Unrecognised licence %s. Check /licences for a list of recognised licences", md.LicenceURL)
		}

		report, err := g.validator.Validate(ctx, archive)
		if err != nil {
			return gErrors.NewWithError(gErrors.SystemError, errors.Wrap(err, "Problem reaching the validation service"))
		}
		if report.DatasetType == "" {
			report.DatasetType = archive.DatasetType()
		}
		if !report.Valid {
			report.Issues = append(report.Issues, "The archive failed structural validation")
			rejected := newValidationResponse(up, runID, report)
			rejected.HasEML = archive.HasMetadata()
			res = &ProcessResult{Rejected: rejected}
			return nil
		}

		published, err := g.publish(ctx, &PublishRequest{
			Metadata:        md,
			DataResourceUID: strings.TrimSpace(dataResourceUID),
			Artifact:        LocalArtifact{Archive: archive},
			Identity:        id,
		}, runID)
		if err != nil {
			return err
		}
		res = &ProcessResult{Published: published}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
