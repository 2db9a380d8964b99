package gateway

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/biodiversity-data/publishing-gateway/auth"
	"github.com/biodiversity-data/publishing-gateway/dwca"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/notify"
	"github.com/biodiversity-data/publishing-gateway/registry"
	"github.com/biodiversity-data/publishing-gateway/workflow"
)

// Artifact is the archive being published.
type Artifact interface {
	// promote stores the archive under key in the object store.
	promote(ctx context.Context, g *Gateway, key string) error
}

// StagedArtifact is an upload previously staged by Validate. Publish checks
// the reference once the caller is known to be allowed to publish.
type StagedArtifact struct {
	TempPath string
}

// NewStagedArtifact checks the reference returned by Validate.
func NewStagedArtifact(tempPath string) (StagedArtifact, error) {
	tempPath = strings.TrimSpace(tempPath)
	if tempPath == "" {
		return StagedArtifact{}, gErrors.New(gErrors.MissingFile, "Missing the tempPath file reference")
	}
	if strings.HasPrefix(tempPath, "/") || strings.Contains(tempPath, "..") {
		return StagedArtifact{}, gErrors.New(gErrors.MissingFile, "Invalid tempPath file reference %q", tempPath)
	}
	return StagedArtifact{TempPath: tempPath}, nil
}

func (a StagedArtifact) promote(ctx context.Context, g *Gateway, key string) error {
	return g.storage.Copy(ctx, g.stagingKey(a.TempPath), key)
}

// ownedBy reports whether the upload was staged by userID.
func (a StagedArtifact) ownedBy(userID string) bool {
	return userID != "" && strings.HasPrefix(a.TempPath, userID+"/")
}

// LocalArtifact is an archive held in a scratch file.
type LocalArtifact struct {
	Archive *dwca.Archive
}

func (a LocalArtifact) promote(ctx context.Context, g *Gateway, key string) error {
	f, err := a.Archive.Open()
	if err != nil {
		return errors.Wrap(err, "scratch file could not be opened")
	}
	defer f.Close()
	return g.storage.Upload(ctx, key, f)
}

// PublishRequest asks for a dataset to be published.
type PublishRequest struct {
	Metadata dwca.Metadata

	// DataResourceUID, when set, names the dataset being republished.
	DataResourceUID string

	// Reference is the ID of the validation request that staged the
	// artifact, recorded in the note of the workflow run.
	Reference string

	Artifact Artifact
	Identity *auth.Identity
}

// Publish registers the dataset described by req and starts its ingest.
//
// Without DataResourceUID, a dataset with the same name created by the same
// user is updated rather than duplicated. Two concurrent first publications
// of the same name can still both create a record: the search and the
// creation are not atomic and the registry is expected to enforce uniqueness.
func (g *Gateway) Publish(ctx context.Context, req *PublishRequest) (res *Result, err error) {
	defer g.observe("publish", &err)
	return g.publish(ctx, req, g.newID())
}

func (g *Gateway) publish(ctx context.Context, req *PublishRequest, runID string) (*Result, error) {
	id := req.Identity
	if !id.CanPublish() {
		return nil, gErrors.New(gErrors.NotAuthorized, "You are not authorised to publish datasets")
	}
	artifact := req.Artifact
	if artifact == nil {
		return nil, gErrors.New(gErrors.MissingFile, "Missing the tempPath file reference")
	}
	if a, ok := artifact.(StagedArtifact); ok {
		staged, err := NewStagedArtifact(a.TempPath)
		if err != nil {
			return nil, err
		}
		if !id.IsAdmin && !staged.ownedBy(id.ID) {
			return nil, gErrors.New(gErrors.NotAuthorized, "The tempPath file reference belongs to another user")
		}
		artifact = staged
	}

	var existing *registry.Record
	if req.DataResourceUID != "" {
		var err error
		if existing, err = g.lookup(ctx, req.DataResourceUID, id.CanModify); err != nil {
			return nil, err
		}
	}

	md := req.Metadata
	if missing := md.MissingFields(); len(missing) > 0 {
		return nil, gErrors.New(gErrors.MissingRequiredField, "Missing required fields: %s", strings.Join(missing, ", "))
	}
	lic, ok := g.licences.Resolve(md.LicenceURL)
	if !ok {
		return nil, gErrors.New(gErrors.UnrecognisedLicence,
			"Unrecognised licence %s. Check /licences for a list of recognised licences", md.LicenceURL)
	}

	record := &registry.Record{
		Name:                      md.Name,
		LicenseType:               lic.Acronym,
		LicenseVersion:            lic.Version,
		PubDescription:            md.Description,
		Citation:                  md.Citation,
		Rights:                    md.Rights,
		Purpose:                   md.Purpose,
		MethodStepDescription:     md.MethodStepDescription,
		QualityControlDescription: md.QualityControlDescription,
		ConnectionParameters:      registry.DwCAConnection("").String(),
		CreatedByID:               id.ID,
	}
	uid, created, err := g.register(ctx, record, existing)
	if err != nil {
		return nil, err
	}

	logger := g.logger.WithFields(logrus.Fields{"uid": uid, "runID": runID, "created": created})
	logger.Info("Dataset registered")

	key := g.permanentKey(uid)
	if err := artifact.promote(ctx, g, key); err != nil {
		return nil, partial(uid, errors.Wrap(err, "the archive could not be stored"))
	}
	if err := g.registry.UpdateConnectionParameters(ctx, uid, registry.DwCAConnection(g.storage.URI(key))); err != nil {
		return nil, partial(uid, errors.Wrap(err, "the archive location could not be registered"))
	}

	note := "Ingest from API call - " + md.Name
	if req.Reference != "" {
		note += " (" + req.Reference + ")"
	}
	err = g.trigger(ctx, g.config.IngestWorkflow, &workflow.RunRequest{
		RunID: runID,
		Note:  note,
		Conf: map[string]string{
			"userid":                         id.ID,
			"userEmail":                      id.Email,
			"userDisplayName":                id.DisplayName,
			"dataset_name":                   md.Name,
			"datasetIds":                     uid,
			"load_images":                    "false",
			"run_indexing":                   "true",
			"skip_dwca_to_verbatim":          "false",
			"override_uuid_percentage_check": "false",
		},
	}, uid)
	if err != nil {
		return nil, err
	}
	logger.Info("Ingest started")

	g.notify(ctx, &notify.Event{
		Type:            notify.DatasetPublished,
		DataResourceUID: uid,
		RequestID:       runID,
		DatasetName:     md.Name,
		UserID:          id.ID,
		Created:         created,
	})

	message := "Dataset updated"
	if created {
		message = "Dataset created"
	}
	return g.result(runID, uid, message), nil
}

// register writes the record, updating existing when given, otherwise the
// dataset of the same name created by the same user, otherwise creating a
// new one.
func (g *Gateway) register(ctx context.Context, record *registry.Record, existing *registry.Record) (uid string, created bool, err error) {
	if existing == nil {
		matches, err := g.registry.Search(ctx, record.CreatedByID, record.Name)
		if err != nil {
			return "", false, gErrors.NewWithError(gErrors.RegistryError, errors.Wrap(err, "Problem updating dataset in the registry"))
		}
		if len(matches) > 0 {
			existing = &matches[0]
		}
	}

	if existing != nil {
		if existing.CreatedByID != "" {
			record.CreatedByID = existing.CreatedByID
		}
		if err := g.registry.Update(ctx, existing.UID, record); err != nil {
			return "", false, gErrors.NewWithError(gErrors.RegistryError, errors.Wrap(err, "Problem updating dataset in the registry"))
		}
		return existing.UID, false, nil
	}

	uid, err = g.registry.Create(ctx, record)
	if err != nil {
		return "", false, gErrors.NewWithError(gErrors.RegistryError, errors.Wrap(err, "Problem creating dataset in the registry"))
	}
	return uid, true, nil
}
