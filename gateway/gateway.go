// Package gateway implements the publication pipeline: archives are
// validated, staged in object storage, registered in the dataset registry and
// handed over to the ingest workflow.
//
// The gateway keeps no state of its own. Coordination, including the
// uniqueness of dataset records per owner and name, is left to the registry
// and the workflow engine.
package gateway

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/biodiversity-data/publishing-gateway/dwca"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/licence"
	"github.com/biodiversity-data/publishing-gateway/notify"
	"github.com/biodiversity-data/publishing-gateway/registry"
	"github.com/biodiversity-data/publishing-gateway/s3"
	"github.com/biodiversity-data/publishing-gateway/validator"
	"github.com/biodiversity-data/publishing-gateway/workflow"
)

// Registry is the dataset registry.
type Registry interface {
	Lookup(ctx context.Context, uid string) (*registry.Record, error)
	Search(ctx context.Context, createdByID, name string) ([]registry.Record, error)
	Create(ctx context.Context, record *registry.Record) (string, error)
	Update(ctx context.Context, uid string, record *registry.Record) error
	UpdateConnectionParameters(ctx context.Context, uid string, params registry.ConnectionParameters) error
}

// Workflows is the workflow engine.
type Workflows interface {
	Trigger(ctx context.Context, workflow string, req *workflow.RunRequest) (*workflow.Run, error)
	Get(ctx context.Context, workflow, runID string) (*workflow.Run, error)
	List(ctx context.Context, workflow string, limit int, orderBy string) ([]workflow.Run, error)
}

// Notifier announces publication events.
type Notifier interface {
	Notify(ctx context.Context, event *notify.Event) error
}

// Previewer renders the map preview of latitude/longitude rows.
type Previewer interface {
	Render(rows [][]string) (string, error)
}

// Config holds the settings of the pipeline.
type Config struct {
	IngestWorkflow string
	DeleteWorkflow string

	// StagingPrefix is where validated uploads wait to be published,
	// PermanentPrefix where published archives are read by the ingest.
	StagingPrefix   string
	PermanentPrefix string

	// RegistryPublicURL is the base of the links to dataset pages.
	RegistryPublicURL string

	EventsLimit int

	RemoveRecordsInSolr bool
	RemoveRecordsInES   bool
	DeleteAvroFiles     bool
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() Config {
	return Config{
		IngestWorkflow:      "Ingest_small_datasets",
		DeleteWorkflow:      "Delete_dataset_dag",
		StagingPrefix:       "file-uploads",
		PermanentPrefix:     "dwca-imports",
		EventsLimit:         10,
		RemoveRecordsInSolr: true,
		RemoveRecordsInES:   false,
		DeleteAvroFiles:     true,
	}
}

// Dependencies are the collaborators of the gateway. Notifier, Previewer and
// Operations are optional.
type Dependencies struct {
	Intake     *dwca.Intake
	Validator  validator.Validator
	Licences   *licence.Catalogue
	Storage    s3.ObjectStorage
	Registry   Registry
	Workflows  Workflows
	Notifier   Notifier
	Previewer  Previewer
	Operations *prometheus.CounterVec
}

// Gateway is the core of the publishing gateway.
type Gateway struct {
	logger     logrus.FieldLogger
	config     Config
	intake     *dwca.Intake
	validator  validator.Validator
	licences   *licence.Catalogue
	storage    s3.ObjectStorage
	registry   Registry
	workflows  Workflows
	notifier   Notifier
	previewer  Previewer
	operations *prometheus.CounterVec

	newID func() string
}

func New(logger logrus.FieldLogger, config Config, deps Dependencies) *Gateway {
	g := &Gateway{
		logger:     logger,
		config:     config,
		intake:     deps.Intake,
		validator:  deps.Validator,
		licences:   deps.Licences,
		storage:    deps.Storage,
		registry:   deps.Registry,
		workflows:  deps.Workflows,
		notifier:   deps.Notifier,
		previewer:  deps.Previewer,
		operations: deps.Operations,
		newID:      func() string { return uuid.New().String() },
	}
	if g.licences == nil {
		g.licences = licence.Default()
	}
	if g.validator == nil {
		g.validator = &validator.NoOpValidator{}
	}
	if g.operations == nil {
		g.operations = NewOperationsCounter()
	}
	return g
}

// Licences returns the catalogue of accepted licences.
func (g *Gateway) Licences() *licence.Catalogue {
	return g.licences
}

// NewOperationsCounter returns the counter of operation outcomes. The caller
// is responsible for registering it.
func NewOperationsCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "publishing_gateway",
		Name:      "operations_total",
		Help:      "The total number of operations by outcome.",
	}, []string{"operation", "code"})
}

// observe counts the outcome of an operation. Use it deferred with a pointer
// to the named error result.
func (g *Gateway) observe(operation string, err *error) {
	code := "OK"
	if *err != nil {
		code = gErrors.KindOf(*err).String()
	}
	g.operations.WithLabelValues(operation, code).Inc()
}

// Result is the outcome of a publication or unpublication request.
type Result struct {
	RequestID       string `json:"requestID"`
	DataResourceUID string `json:"dataResourceUid"`
	Message         string `json:"message"`
	StatusURL       string `json:"statusUrl"`
	MetadataURL     string `json:"metadataUrl"`
	MetadataWsURL   string `json:"metadataWsUrl"`
}

func (g *Gateway) result(runID, uid, message string) *Result {
	base := strings.TrimSuffix(g.config.RegistryPublicURL, "/")
	return &Result{
		RequestID:       runID,
		DataResourceUID: uid,
		Message:         message,
		StatusURL:       "/status/" + runID,
		MetadataURL:     fmt.Sprintf("%s/dataResource/%s", base, uid),
		MetadataWsURL:   fmt.Sprintf("%s/ws/dataResource/%s", base, uid),
	}
}

// TempPath is the reference to a staged upload returned to clients.
func TempPath(userID, requestID string) string {
	return userID + "/" + requestID + ".zip"
}

func (g *Gateway) stagingKey(tempPath string) string {
	return path.Join(g.config.StagingPrefix, tempPath)
}

func (g *Gateway) permanentKey(uid string) string {
	return path.Join(g.config.PermanentPrefix, uid, uid+".zip")
}

// lookup fetches the record identified by uid and checks that the caller
// may modify it.
func (g *Gateway) lookup(ctx context.Context, uid string, canModify func(createdByID string) bool) (*registry.Record, error) {
	record, err := g.registry.Lookup(ctx, uid)
	if err == registry.ErrNotFound {
		return nil, gErrors.New(gErrors.NotFound, "The data resource UID is not recognised")
	}
	if err != nil {
		return nil, gErrors.NewWithError(gErrors.RegistryError, errors.Wrap(err, "Problem reading the dataset from the registry"))
	}
	if !canModify(record.CreatedByID) {
		return nil, gErrors.New(gErrors.NotAuthorizedForResource, "You are not authorised to update this resource")
	}
	return record, nil
}

// trigger starts a run of workflow for the dataset uid.
func (g *Gateway) trigger(ctx context.Context, workflowName string, req *workflow.RunRequest, uid string) error {
	_, err := g.workflows.Trigger(ctx, workflowName, req)
	if err == nil {
		return nil
	}
	if rerr, ok := err.(*workflow.RejectedError); ok {
		e := gErrors.New(gErrors.WorkflowTriggerError, "Unable to access the workflow engine. Response code %d", rerr.StatusCode)
		e.DataResourceUID = uid
		return e
	}
	return partial(uid, errors.Wrap(err, "the workflow could not be started"))
}

// partial reports a failure that happened after the registry was updated.
// Missing or expired storage credentials keep their own kind.
func partial(uid string, err error) error {
	var e *gErrors.Error
	switch errors.Cause(err) {
	case s3.ErrNoCredentials, s3.ErrCredentialsExpired:
		e = storageError(err)
	default:
		e = gErrors.NewWithError(gErrors.SystemError, err)
	}
	e.DataResourceUID = uid
	return e
}

// storageError classifies failures of the object store.
func storageError(err error) *gErrors.Error {
	switch errors.Cause(err) {
	case s3.ErrNoCredentials:
		return gErrors.NewWithError(gErrors.StorageUnavailable, err)
	case s3.ErrCredentialsExpired:
		return gErrors.NewWithError(gErrors.StorageCredentialsExpired, err)
	default:
		return gErrors.NewWithError(gErrors.StorageError, errors.Wrap(err, "Problem uploading file to temporary storage"))
	}
}

func (g *Gateway) notify(ctx context.Context, event *notify.Event) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(ctx, event); err != nil {
		g.logger.WithError(err).WithField("uid", event.DataResourceUID).Warn("Event could not be published")
	}
}
