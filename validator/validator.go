// Package validator checks uploaded archives before they are published.
//
// Structural and content checks are delegated to an external validation
// service. Evaluate combines its verdict with the metadata checks the gateway
// enforces itself.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/biodiversity-data/publishing-gateway/dwca"
	"github.com/biodiversity-data/publishing-gateway/internal/restclient"
	"github.com/biodiversity-data/publishing-gateway/licence"
)

// Report is the outcome of the validation of an archive.
type Report struct {
	Valid                bool            `json:"valid"`
	DatasetType          string          `json:"datasetType"`
	Breakdowns           json.RawMessage `json:"breakdowns,omitempty"`
	CoreValidation       json.RawMessage `json:"coreValidation,omitempty"`
	ExtensionValidations json.RawMessage `json:"extensionValidations,omitempty"`

	// Issues lists the reasons why the archive is not valid.
	Issues []string `json:"issues,omitempty"`
}

// Validator performs structural validation of archives.
type Validator interface {
	Validate(ctx context.Context, archive *dwca.Archive) (*Report, error)
}

// NoOpValidator is a no-op validator that accepts every archive.
type NoOpValidator struct{}

var _ Validator = (*NoOpValidator)(nil)

func (v *NoOpValidator) Validate(_ context.Context, archive *dwca.Archive) (*Report, error) {
	return &Report{Valid: true, DatasetType: archive.DatasetType()}, nil
}

// HTTPValidator posts archives to a validation service.
type HTTPValidator struct {
	client *restclient.Client
	schema *gojsonschema.Schema
	logger logrus.FieldLogger
}

var _ Validator = (*HTTPValidator)(nil)

func NewHTTPValidator(logger logrus.FieldLogger, serviceURL, userAgent string, opts ...restclient.Option) (*HTTPValidator, error) {
	client, err := restclient.New(serviceURL, userAgent, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "error processing validator URL")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reportSchema))
	if err != nil {
		return nil, errors.Wrap(err, "error loading report schema")
	}
	return &HTTPValidator{client: client, schema: schema, logger: logger}, nil
}

// Validate implements the Validator interface.
func (v *HTTPValidator) Validate(ctx context.Context, archive *dwca.Archive) (*Report, error) {
	f, err := archive.Open()
	if err != nil {
		return nil, errors.Wrap(err, "error opening archive")
	}
	data, err := ioutil.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "error reading archive")
	}

	resp, err := v.client.Do(ctx, restclient.Request{
		Method:      http.MethodPost,
		Body:        data,
		ContentType: "application/zip",
		Retry:       true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error sending request")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, restclient.UnexpectedStatus(resp)
	}

	var raw json.RawMessage
	if err := restclient.Decode(resp, &raw); err != nil {
		return nil, err
	}
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "error checking the validation report")
	}
	if !res.Valid() {
		var details []string
		for _, e := range res.Errors() {
			details = append(details, e.String())
		}
		return nil, errors.Errorf("unexpected validation report: %s", strings.Join(details, "; "))
	}

	report := &Report{}
	if err := json.Unmarshal(raw, report); err != nil {
		return nil, errors.Wrap(err, "error decoding the validation report")
	}
	v.logger.WithFields(logrus.Fields{"valid": report.Valid, "datasetType": report.DatasetType}).Debug("Archive validated")
	return report, nil
}

// Evaluate validates the archive and checks that metadata is complete and
// carries a recognised licence. The archive is valid only when the three
// conditions hold.
func Evaluate(ctx context.Context, v Validator, archive *dwca.Archive, metadata dwca.Metadata, catalogue *licence.Catalogue) (*Report, error) {
	report, err := v.Validate(ctx, archive)
	if err != nil {
		return nil, err
	}
	if report.DatasetType == "" {
		report.DatasetType = archive.DatasetType()
	}

	if !report.Valid {
		report.Issues = append(report.Issues, "The archive failed structural validation")
	}
	for _, field := range metadata.MissingFields() {
		report.Issues = append(report.Issues, fmt.Sprintf("Missing required field %s", field))
	}
	if metadata.LicenceURL != "" {
		if _, ok := catalogue.Resolve(metadata.LicenceURL); !ok {
			report.Issues = append(report.Issues, fmt.Sprintf("Unrecognised licence %s", metadata.LicenceURL))
		}
	}
	report.Valid = len(report.Issues) == 0
	return report, nil
}

const reportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["valid", "datasetType"],
  "properties": {
    "valid": {"type": "boolean"},
    "datasetType": {"type": "string"},
    "breakdowns": {"type": ["object", "null"]},
    "coreValidation": {"type": ["object", "null"]},
    "extensionValidations": {"type": ["array", "null"]},
    "issues": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`
