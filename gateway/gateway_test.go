package gateway

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biodiversity-data/publishing-gateway/auth"
	"github.com/biodiversity-data/publishing-gateway/dwca"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/notify"
	"github.com/biodiversity-data/publishing-gateway/registry"
	"github.com/biodiversity-data/publishing-gateway/s3"
	"github.com/biodiversity-data/publishing-gateway/validator"
	"github.com/biodiversity-data/publishing-gateway/workflow"
)

const ccBy = "https://creativecommons.org/licenses/by/4.0/legalcode"

var (
	publisher = &auth.Identity{ID: "42", Email: "jane@example.org", DisplayName: "Jane", IsPublisher: true}
	stranger  = &auth.Identity{ID: "99", Email: "joe@example.org", DisplayName: "Joe", IsPublisher: true}
	admin     = &auth.Identity{ID: "1", Email: "admin@example.org", DisplayName: "Admin", IsAdmin: true}
	reader    = &auth.Identity{ID: "7", Email: "reader@example.org", DisplayName: "Reader"}
)

// stubRegistry is an in-memory registry counting its writes.
type stubRegistry struct {
	mu      sync.Mutex
	records map[string]*registry.Record
	params  map[string]registry.ConnectionParameters
	next    int

	creates, updates, paramUpdates int

	lookupErr, writeErr, paramsErr error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		records: map[string]*registry.Record{},
		params:  map[string]registry.ConnectionParameters{},
	}
}

func (r *stubRegistry) add(record registry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.UID] = &record
}

func (r *stubRegistry) Lookup(_ context.Context, uid string) (*registry.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	rec, ok := r.records[uid]
	if !ok {
		return nil, registry.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *stubRegistry) Search(_ context.Context, createdByID, name string) ([]registry.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	var matches []registry.Record
	for _, rec := range r.records {
		if rec.CreatedByID == createdByID && rec.Name == name {
			matches = append(matches, *rec)
		}
	}
	return matches, nil
}

func (r *stubRegistry) Create(_ context.Context, record *registry.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return "", r.writeErr
	}
	r.creates++
	r.next++
	cp := *record
	cp.UID = fmt.Sprintf("dr%d", r.next)
	r.records[cp.UID] = &cp
	return cp.UID, nil
}

func (r *stubRegistry) Update(_ context.Context, uid string, record *registry.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.updates++
	cp := *record
	cp.UID = uid
	r.records[uid] = &cp
	return nil
}

func (r *stubRegistry) UpdateConnectionParameters(_ context.Context, uid string, params registry.ConnectionParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paramsErr != nil {
		return r.paramsErr
	}
	r.paramUpdates++
	r.params[uid] = params
	return nil
}

func (r *stubRegistry) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates + r.updates + r.paramUpdates
}

type triggered struct {
	workflow string
	req      workflow.RunRequest
}

// stubWorkflows records triggers and serves canned runs.
type stubWorkflows struct {
	mu       sync.Mutex
	triggers []triggered
	runs     map[string][]workflow.Run

	triggerErr, readErr error
}

func newStubWorkflows() *stubWorkflows {
	return &stubWorkflows{runs: map[string][]workflow.Run{}}
}

func (w *stubWorkflows) Trigger(_ context.Context, name string, req *workflow.RunRequest) (*workflow.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.triggerErr != nil {
		return nil, w.triggerErr
	}
	w.triggers = append(w.triggers, triggered{workflow: name, req: *req})
	return &workflow.Run{RunID: req.RunID, WorkflowName: name, State: "queued"}, nil
}

func (w *stubWorkflows) Get(_ context.Context, name, runID string) (*workflow.Run, error) {
	if w.readErr != nil {
		return nil, w.readErr
	}
	for _, run := range w.runs[name] {
		if run.RunID == runID {
			run := run
			return &run, nil
		}
	}
	return nil, workflow.ErrNotFound
}

func (w *stubWorkflows) List(_ context.Context, name string, limit int, orderBy string) ([]workflow.Run, error) {
	if w.readErr != nil {
		return nil, w.readErr
	}
	runs := w.runs[name]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// memStorage keeps objects in memory.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

var _ s3.ObjectStorage = (*memStorage)(nil)

func (s *memStorage) Upload(_ context.Context, key string, body io.Reader) error {
	if s.err != nil {
		return s.err
	}
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) Copy(_ context.Context, srcKey, dstKey string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[srcKey]
	if !ok {
		return errors.Errorf("NoSuchKey: %s", srcKey)
	}
	s.objects[dstKey] = data
	return nil
}

func (s *memStorage) URI(key string) string {
	return "s3://bucket/" + key
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event *notify.Event) error {
	n.events = append(n.events, *event)
	return nil
}

type fixedPreviewer struct {
	rows [][]string
	err  error
}

func (p *fixedPreviewer) Render(rows [][]string) (string, error) {
	p.rows = rows
	return "cG5n", p.err
}

type fixedValidator struct {
	report validator.Report
	err    error
}

func (v fixedValidator) Validate(context.Context, *dwca.Archive) (*validator.Report, error) {
	if v.err != nil {
		return nil, v.err
	}
	r := v.report
	return &r, nil
}

type env struct {
	gateway   *Gateway
	fs        afero.Fs
	registry  *stubRegistry
	workflows *stubWorkflows
	storage   *memStorage
	notifier  *recordingNotifier
	previewer *fixedPreviewer
}

func newEnv(t *testing.T, v validator.Validator) *env {
	t.Helper()

	logger, _ := test.NewNullLogger()
	e := &env{
		fs:        afero.NewMemMapFs(),
		registry:  newStubRegistry(),
		workflows: newStubWorkflows(),
		storage:   newMemStorage(),
		notifier:  &recordingNotifier{},
		previewer: &fixedPreviewer{},
	}
	config := DefaultConfig()
	config.RegistryPublicURL = "https://collections.example.org/"
	e.gateway = New(logger, config, Dependencies{
		Intake:    dwca.NewIntake(e.fs, "/scratch", logger),
		Validator: v,
		Storage:   e.storage,
		Registry:  e.registry,
		Workflows: e.workflows,
		Notifier:  e.notifier,
		Previewer: e.previewer,
	})
	n := 0
	e.gateway.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return e
}

// scratchFiles returns the files left in the scratch directory.
func (e *env) scratchFiles(t *testing.T) []string {
	t.Helper()
	var names []string
	infos, err := afero.ReadDir(e.fs, "/scratch")
	if err != nil {
		return nil
	}
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func frogsMetadata() dwca.Metadata {
	return dwca.Metadata{
		Name:        "Frogs",
		LicenceURL:  ccBy,
		Description: "Frogs of the Sydney basin",
		Purpose:     "Monitoring",
	}
}

func stage(e *env, userID, requestID string) StagedArtifact {
	e.storage.objects["file-uploads/"+TempPath(userID, requestID)] = []byte("PK")
	return StagedArtifact{TempPath: TempPath(userID, requestID)}
}

func TestPublish(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.gateway.Publish(context.Background(), &PublishRequest{
		Metadata:  frogsMetadata(),
		Reference: "req-1",
		Artifact:  stage(e, "42", "req-1"),
		Identity:  publisher,
	})
	require.NoError(t, err)

	assert.Equal(t, &Result{
		RequestID:       "run-1",
		DataResourceUID: "dr1",
		Message:         "Dataset created",
		StatusURL:       "/status/run-1",
		MetadataURL:     "https://collections.example.org/dataResource/dr1",
		MetadataWsURL:   "https://collections.example.org/ws/dataResource/dr1",
	}, res)

	rec := e.registry.records["dr1"]
	assert.Equal(t, "CC-BY", rec.LicenseType)
	assert.Equal(t, "4.0", rec.LicenseVersion)
	assert.Equal(t, "42", rec.CreatedByID)
	assert.Equal(t, "Frogs of the Sydney basin", rec.PubDescription)
	assert.Equal(t, []byte("PK"), e.storage.objects["dwca-imports/dr1/dr1.zip"])
	assert.Contains(t, e.storage.objects, "file-uploads/42/req-1.zip")
	assert.Equal(t, registry.DwCAConnection("s3://bucket/dwca-imports/dr1/dr1.zip"), e.registry.params["dr1"])

	require.Len(t, e.workflows.triggers, 1)
	tr := e.workflows.triggers[0]
	assert.Equal(t, "Ingest_small_datasets", tr.workflow)
	assert.Equal(t, "run-1", tr.req.RunID)
	assert.Equal(t, "Ingest from API call - Frogs (req-1)", tr.req.Note)
	assert.Equal(t, map[string]string{
		"userid":                         "42",
		"userEmail":                      "jane@example.org",
		"userDisplayName":                "Jane",
		"dataset_name":                   "Frogs",
		"datasetIds":                     "dr1",
		"load_images":                    "false",
		"run_indexing":                   "true",
		"skip_dwca_to_verbatim":          "false",
		"override_uuid_percentage_check": "false",
	}, tr.req.Conf)

	require.Len(t, e.notifier.events, 1)
	assert.Equal(t, notify.DatasetPublished, e.notifier.events[0].Type)
	assert.True(t, e.notifier.events[0].Created)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.gateway.operations.WithLabelValues("publish", "OK")))
}

func TestPublish_SameNameTwice(t *testing.T) {
	e := newEnv(t, nil)
	req := &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "42", "req-1"), Identity: publisher}

	first, err := e.gateway.Publish(context.Background(), req)
	require.NoError(t, err)
	second, err := e.gateway.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, e.registry.creates)
	assert.Equal(t, 1, e.registry.updates)
	assert.Equal(t, first.DataResourceUID, second.DataResourceUID)
	assert.Equal(t, "Dataset updated", second.Message)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Len(t, e.workflows.triggers, 2)
}

func TestPublish_SameNameOtherUser(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.gateway.Publish(context.Background(), &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "42", "a"), Identity: publisher})
	require.NoError(t, err)
	res, err := e.gateway.Publish(context.Background(), &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "99", "b"), Identity: stranger})
	require.NoError(t, err)

	assert.Equal(t, 2, e.registry.creates)
	assert.Equal(t, "dr2", res.DataResourceUID)
}

func TestPublish_AdminUpdatesDatasetOfOtherUser(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr7", Name: "Old frogs", CreatedByID: "42"})

	res, err := e.gateway.Publish(context.Background(), &PublishRequest{
		Metadata:        frogsMetadata(),
		DataResourceUID: "dr7",
		Artifact:        stage(e, "42", "req-1"),
		Identity:        admin,
	})
	require.NoError(t, err)

	assert.Equal(t, "dr7", res.DataResourceUID)
	assert.Equal(t, "Dataset updated", res.Message)
	assert.Equal(t, 0, e.registry.creates)
	assert.Equal(t, "Frogs", e.registry.records["dr7"].Name)
	assert.Equal(t, "42", e.registry.records["dr7"].CreatedByID)
	assert.Contains(t, e.storage.objects, "dwca-imports/dr7/dr7.zip")
}

func TestPublish_Rejected(t *testing.T) {
	tests := map[string]struct {
		mutate   func(e *env, req *PublishRequest)
		wantKind gErrors.Kind
	}{
		"No identity": {
			mutate:   func(e *env, req *PublishRequest) { req.Identity = nil },
			wantKind: gErrors.NotAuthorized,
		},
		"Not a publisher": {
			mutate:   func(e *env, req *PublishRequest) { req.Identity = reader },
			wantKind: gErrors.NotAuthorized,
		},
		"No artifact": {
			mutate:   func(e *env, req *PublishRequest) { req.Artifact = nil },
			wantKind: gErrors.MissingFile,
		},
		"Not a publisher with an empty tempPath": {
			mutate: func(e *env, req *PublishRequest) {
				req.Identity = reader
				req.Artifact = StagedArtifact{}
			},
			wantKind: gErrors.NotAuthorized,
		},
		"Empty tempPath": {
			mutate:   func(e *env, req *PublishRequest) { req.Artifact = StagedArtifact{TempPath: " "} },
			wantKind: gErrors.MissingFile,
		},
		"tempPath outside the staging area": {
			mutate:   func(e *env, req *PublishRequest) { req.Artifact = StagedArtifact{TempPath: "42/../99/req-9.zip"} },
			wantKind: gErrors.MissingFile,
		},
		"Upload staged by another user": {
			mutate:   func(e *env, req *PublishRequest) { req.Artifact = stage(e, "99", "req-9") },
			wantKind: gErrors.NotAuthorized,
		},
		"Unknown data resource": {
			mutate:   func(e *env, req *PublishRequest) { req.DataResourceUID = "dr404" },
			wantKind: gErrors.NotFound,
		},
		"Data resource of another user": {
			mutate: func(e *env, req *PublishRequest) {
				e.registry.add(registry.Record{UID: "dr9", Name: "Toads", CreatedByID: "99"})
				req.DataResourceUID = "dr9"
			},
			wantKind: gErrors.NotAuthorizedForResource,
		},
		"Registry unavailable during lookup": {
			mutate: func(e *env, req *PublishRequest) {
				e.registry.lookupErr = errors.New("connection refused")
				req.DataResourceUID = "dr9"
			},
			wantKind: gErrors.RegistryError,
		},
		"Missing description": {
			mutate:   func(e *env, req *PublishRequest) { req.Metadata.Description = "" },
			wantKind: gErrors.MissingRequiredField,
		},
		"Unrecognised licence": {
			mutate:   func(e *env, req *PublishRequest) { req.Metadata.LicenceURL = "https://opensource.org/licenses/MIT" },
			wantKind: gErrors.UnrecognisedLicence,
		},
		"Registry write failure": {
			mutate:   func(e *env, req *PublishRequest) { e.registry.writeErr = errors.New("500") },
			wantKind: gErrors.RegistryError,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, nil)
			req := &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "42", "req-1"), Identity: publisher}
			tc.mutate(e, req)

			_, err := e.gateway.Publish(context.Background(), req)

			require.Error(t, err)
			assert.Equal(t, tc.wantKind, gErrors.KindOf(err))
			assert.Zero(t, e.registry.writes())
			assert.Empty(t, e.workflows.triggers)
			assert.NotContains(t, e.storage.objects, "dwca-imports/dr1/dr1.zip")
			assert.Empty(t, e.notifier.events)
			assert.Equal(t, 1.0, testutil.ToFloat64(e.gateway.operations.WithLabelValues("publish", tc.wantKind.String())))
		})
	}
}

func TestPublish_FailureAfterRegistration(t *testing.T) {
	tests := map[string]struct {
		mutate   func(e *env)
		wantKind gErrors.Kind
	}{
		"Archive cannot be copied": {
			mutate:   func(e *env) { e.storage.err = errors.New("boom") },
			wantKind: gErrors.SystemError,
		},
		"Storage credentials expired": {
			mutate:   func(e *env) { e.storage.err = errors.Wrap(s3.ErrCredentialsExpired, "copy failed") },
			wantKind: gErrors.StorageCredentialsExpired,
		},
		"Connection parameters rejected": {
			mutate:   func(e *env) { e.registry.paramsErr = errors.New("500") },
			wantKind: gErrors.SystemError,
		},
		"Workflow engine unreachable": {
			mutate:   func(e *env) { e.workflows.triggerErr = errors.New("connection refused") },
			wantKind: gErrors.SystemError,
		},
		"Workflow engine rejects the run": {
			mutate:   func(e *env) { e.workflows.triggerErr = &workflow.RejectedError{StatusCode: 409} },
			wantKind: gErrors.WorkflowTriggerError,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, nil)
			artifact := stage(e, "42", "req-1")
			tc.mutate(e)

			_, err := e.gateway.Publish(context.Background(), &PublishRequest{Metadata: frogsMetadata(), Artifact: artifact, Identity: publisher})

			require.Error(t, err)
			assert.Equal(t, tc.wantKind, gErrors.KindOf(err))
			assert.Equal(t, "dr1", gErrors.From(err).DataResourceUID)
			assert.Equal(t, 1, e.registry.creates)
			assert.Empty(t, e.notifier.events)
		})
	}
}

func TestPublish_WorkflowRejectionMessage(t *testing.T) {
	e := newEnv(t, nil)
	e.workflows.triggerErr = &workflow.RejectedError{StatusCode: 409}

	_, err := e.gateway.Publish(context.Background(), &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "42", "r"), Identity: publisher})
	assert.EqualError(t, err, "Unable to access the workflow engine. Response code 409")
}

func TestPublish_WorkflowEngineUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.workflows.triggerErr = &workflow.RejectedError{StatusCode: 503}

	_, err := e.gateway.Publish(context.Background(), &PublishRequest{Metadata: frogsMetadata(), Artifact: stage(e, "42", "r"), Identity: publisher})
	assert.Equal(t, gErrors.WorkflowTriggerError, gErrors.KindOf(err))
	assert.Equal(t, "dr1", gErrors.From(err).DataResourceUID)
	assert.EqualError(t, err, "Unable to access the workflow engine. Response code 503")
}

func TestNewStagedArtifact(t *testing.T) {
	a, err := NewStagedArtifact(" 42/req-1.zip ")
	require.NoError(t, err)
	assert.Equal(t, "42/req-1.zip", a.TempPath)

	for _, p := range []string{"", "/etc/passwd", "42/../99/req.zip"} {
		_, err := NewStagedArtifact(p)
		assert.Equal(t, gErrors.MissingFile, gErrors.KindOf(err), p)
	}
}

func TestUnpublish(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr3", Name: "Frogs", CreatedByID: "42"})

	res, err := e.gateway.Unpublish(context.Background(), "dr3", publisher)
	require.NoError(t, err)

	assert.Equal(t, "Dataset delete request started", res.Message)
	assert.Equal(t, "dr3", res.DataResourceUID)
	assert.Equal(t, "/status/run-1", res.StatusURL)

	require.Len(t, e.workflows.triggers, 1)
	tr := e.workflows.triggers[0]
	assert.Equal(t, "Delete_dataset_dag", tr.workflow)
	assert.Equal(t, map[string]string{
		"userid":                 "42",
		"userEmail":              "jane@example.org",
		"userDisplayName":        "Jane",
		"dataset_name":           "Frogs",
		"datasetIds":             "dr3",
		"remove_records_in_solr": "true",
		"remove_records_in_es":   "false",
		"delete_avro_files":      "true",
		"retain_dwca":            "true",
		"retain_uuid":            "true",
	}, tr.req.Conf)

	assert.Contains(t, e.registry.records, "dr3")
	require.Len(t, e.notifier.events, 1)
	assert.Equal(t, notify.DatasetUnpublished, e.notifier.events[0].Type)
}

func TestUnpublish_Rejected(t *testing.T) {
	tests := map[string]struct {
		uid      string
		identity *auth.Identity
		wantKind gErrors.Kind
	}{
		"No identity":               {uid: "dr3", identity: nil, wantKind: gErrors.NotAuthorized},
		"Reader of another dataset": {uid: "dr3", identity: reader, wantKind: gErrors.NotAuthorizedForResource},
		"Empty UID":                 {uid: " ", identity: publisher, wantKind: gErrors.InvalidDataResourceUID},
		"Unknown data resource":     {uid: "dr404", identity: publisher, wantKind: gErrors.NotFound},
		"Not the owner":             {uid: "dr3", identity: stranger, wantKind: gErrors.NotAuthorizedForResource},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.registry.add(registry.Record{UID: "dr3", Name: "Frogs", CreatedByID: "42"})

			_, err := e.gateway.Unpublish(context.Background(), tc.uid, tc.identity)

			assert.Equal(t, tc.wantKind, gErrors.KindOf(err))
			assert.Empty(t, e.workflows.triggers)
		})
	}
}

func TestUnpublish_OwnerWithoutPublisherRole(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr3", Name: "Frogs", CreatedByID: "7"})

	res, err := e.gateway.Unpublish(context.Background(), "dr3", reader)
	require.NoError(t, err)
	assert.Equal(t, "dr3", res.DataResourceUID)
	require.Len(t, e.workflows.triggers, 1)
	assert.Equal(t, "7", e.workflows.triggers[0].req.Conf["userid"])
}

func TestUnpublish_WorkflowEngineUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr3", Name: "Frogs", CreatedByID: "42"})
	e.workflows.triggerErr = &workflow.RejectedError{StatusCode: 503}

	_, err := e.gateway.Unpublish(context.Background(), "dr3", publisher)
	assert.Equal(t, gErrors.WorkflowTriggerError, gErrors.KindOf(err))
	assert.Equal(t, "dr3", gErrors.From(err).DataResourceUID)
}

func TestUnpublish_Admin(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr3", Name: "Frogs", CreatedByID: "42"})

	_, err := e.gateway.Unpublish(context.Background(), "dr3", admin)
	require.NoError(t, err)
	require.Len(t, e.workflows.triggers, 1)
	assert.Equal(t, "1", e.workflows.triggers[0].req.Conf["userid"])
}

func TestStatus(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, nil)
	e.workflows.runs["Ingest_small_datasets"] = []workflow.Run{{
		RunID:     "run-a",
		State:     "success",
		StartDate: &start,
		Conf:      map[string]interface{}{"dataset_name": "Frogs", "datasetIds": "dr1 dr2"},
	}}
	e.workflows.runs["Delete_dataset_dag"] = []workflow.Run{{
		RunID: "run-b",
		State: "running",
		Conf:  map[string]interface{}{"dataset_name": "Toads", "datasetIds": "dr3"},
	}}

	st, err := e.gateway.Status(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Equal(t, &RunStatus{
		ID:          "run-a",
		DatasetName: "Frogs",
		Datasets:    []string{"dr1", "dr2"},
		State:       "success",
		StartDate:   &start,
	}, st)

	st, err = e.gateway.Status(context.Background(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, "Toads", st.DatasetName)
	assert.Equal(t, "running", st.State)

	_, err = e.gateway.Status(context.Background(), "run-z")
	assert.Equal(t, gErrors.NotFound, gErrors.KindOf(err))

	e.workflows.readErr = errors.New("connection refused")
	_, err = e.gateway.Status(context.Background(), "run-a")
	assert.Equal(t, gErrors.WorkflowTriggerError, gErrors.KindOf(err))
}

func TestEvents(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.add(registry.Record{UID: "dr1", Name: "Frogs"})
	e.workflows.runs["Ingest_small_datasets"] = []workflow.Run{
		{RunID: "run-2", State: "running", Conf: map[string]interface{}{"userDisplayName": "Jane", "datasetIds": "dr1 dr404"}},
		{RunID: "run-1", State: "success", Conf: map[string]interface{}{"userDisplayName": "Joe", "datasetIds": "dr1"}},
	}

	events, err := e.gateway.Events(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "run-2", events[0].ID)
	assert.Equal(t, "Jane", events[0].User)
	assert.Equal(t, []DatasetRef{{ID: "dr1", Name: "Frogs"}, {ID: "dr404"}}, events[0].Datasets)
	assert.Equal(t, []DatasetRef{{ID: "dr1", Name: "Frogs"}}, events[1].Datasets)

	events, err = e.gateway.Events(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEvents_RegistryUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.registry.lookupErr = errors.New("connection refused")
	e.workflows.runs["Ingest_small_datasets"] = []workflow.Run{
		{RunID: "run-1", Conf: map[string]interface{}{"datasetIds": "dr1"}},
	}

	events, err := e.gateway.Events(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []DatasetRef{{ID: "dr1"}}, events[0].Datasets)
}

func TestEvents_WorkflowEngineUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.workflows.readErr = errors.New("connection refused")

	_, err := e.gateway.Events(context.Background(), 0)
	assert.Equal(t, gErrors.WorkflowTriggerError, gErrors.KindOf(err))
}
