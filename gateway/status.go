package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"

	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/workflow"
)

// RunStatus is the state of a workflow run started by the gateway.
type RunStatus struct {
	ID          string     `json:"id"`
	DatasetName string     `json:"dataset_name"`
	Datasets    []string   `json:"datasets"`
	State       string     `json:"state"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// Status returns the state of the run identified by runID. Ingest runs are
// searched first, then delete runs.
func (g *Gateway) Status(ctx context.Context, runID string) (st *RunStatus, err error) {
	defer g.observe("status", &err)

	for _, name := range []string{g.config.IngestWorkflow, g.config.DeleteWorkflow} {
		run, err := g.workflows.Get(ctx, name, runID)
		if err == workflow.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, gErrors.NewWithError(gErrors.WorkflowTriggerError, errors.Wrap(err, "Unable to read the status from the workflow engine"))
		}
		return &RunStatus{
			ID:          run.RunID,
			DatasetName: run.ConfString("dataset_name"),
			Datasets:    run.DatasetIDs(),
			State:       run.State,
			StartDate:   run.StartDate,
			EndDate:     run.EndDate,
		}, nil
	}
	return nil, gErrors.New(gErrors.NotFound, "No request found with ID %s", runID)
}

// DatasetRef names a dataset involved in an event.
type DatasetRef struct {
	ID   string `json:"datasetId"`
	Name string `json:"datasetName,omitempty"`
}

// Event is a past ingest run.
type Event struct {
	ID        string       `json:"id"`
	User      string       `json:"user"`
	Datasets  []DatasetRef `json:"datasets"`
	State     string       `json:"state"`
	StartDate *time.Time   `json:"start_date"`
	EndDate   *time.Time   `json:"end_date"`
}

// Events returns the latest ingest runs, most recent first. A limit of zero
// or less uses the configured default. Dataset names are resolved through
// the registry when possible; a dataset that cannot be resolved is listed by
// ID only.
func (g *Gateway) Events(ctx context.Context, limit int) (events []Event, err error) {
	defer g.observe("events", &err)

	if limit <= 0 {
		limit = g.config.EventsLimit
	}
	runs, err := g.workflows.List(ctx, g.config.IngestWorkflow, limit, "-start_date")
	if err != nil {
		return nil, gErrors.NewWithError(gErrors.WorkflowTriggerError, errors.Wrap(err, "Unable to read the events from the workflow engine"))
	}

	names := map[string]string{}
	events = make([]Event, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		ev := Event{
			ID:        run.RunID,
			User:      run.ConfString("userDisplayName"),
			Datasets:  []DatasetRef{},
			State:     run.State,
			StartDate: run.StartDate,
			EndDate:   run.EndDate,
		}
		for _, id := range run.DatasetIDs() {
			name, ok := names[id]
			if !ok {
				name = g.datasetName(ctx, id)
				names[id] = name
			}
			ev.Datasets = append(ev.Datasets, DatasetRef{ID: id, Name: name})
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *Gateway) datasetName(ctx context.Context, uid string) string {
	record, err := g.registry.Lookup(ctx, uid)
	if err != nil {
		g.logger.WithError(err).WithField("uid", uid).Debug("Dataset name could not be resolved")
		return ""
	}
	return record.Name
}
