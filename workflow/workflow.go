// Package workflow is a client of the workflow engine (the Airflow stable
// REST API) that runs the ingest and delete pipelines.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/biodiversity-data/publishing-gateway/internal/restclient"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("workflow run not found")

// RejectedError is returned when the engine refuses to start a run.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("workflow engine rejected the run with status %d", e.StatusCode)
}

// RunRequest asks the engine to start a run.
type RunRequest struct {
	RunID string            `json:"dag_run_id"`
	Note  string            `json:"note,omitempty"`
	Conf  map[string]string `json:"conf"`
}

// Run is a run of a workflow, owned by the engine.
type Run struct {
	RunID        string                 `json:"dag_run_id"`
	WorkflowName string                 `json:"dag_id"`
	State        string                 `json:"state"`
	StartDate    *time.Time             `json:"start_date"`
	EndDate      *time.Time             `json:"end_date"`
	Conf         map[string]interface{} `json:"conf"`
}

// ConfString returns a configuration value of the run as a string.
func (r *Run) ConfString(key string) string {
	switch v := r.Conf[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// DatasetIDs returns the data resource uids the run was started for.
func (r *Run) DatasetIDs() []string {
	return strings.Fields(r.ConfString("datasetIds"))
}

// Client of the engine REST API at a base URL such as
// https://airflow.example.org/api/v1.
type Client struct {
	rc *restclient.Client
}

func New(baseURL, username, password, userAgent string, opts ...restclient.Option) (*Client, error) {
	opts = append([]restclient.Option{restclient.WithBasicAuth(username, password)}, opts...)
	rc, err := restclient.New(baseURL, userAgent, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rc: rc}, nil
}

func runsPath(workflow string) string {
	return "dags/" + url.PathEscape(workflow) + "/dagRuns"
}

// Trigger starts a run of workflow. The engine acknowledges accepted runs
// with 200 OK, any other status is returned as a *RejectedError, including
// server errors that persist after the retries.
//
// The request is retried on server errors: the run ID makes it idempotent.
func (c *Client) Trigger(ctx context.Context, workflow string, req *RunRequest) (*Run, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method:  http.MethodPost,
		Path:    runsPath(workflow),
		Payload: req,
		Retry:   true,
	})
	if err != nil {
		if serr, ok := errors.Cause(err).(*restclient.StatusError); ok {
			return nil, &RejectedError{StatusCode: serr.StatusCode, Body: serr.Body}
		}
		return nil, errors.Wrapf(err, "cannot trigger %s", workflow)
	}
	if resp.StatusCode != http.StatusOK {
		serr := restclient.UnexpectedStatus(resp).(*restclient.StatusError)
		return nil, &RejectedError{StatusCode: serr.StatusCode, Body: serr.Body}
	}

	run := &Run{}
	if err := restclient.Decode(resp, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns a run of workflow.
func (c *Client) Get(ctx context.Context, workflow, runID string) (*Run, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   runsPath(workflow) + "/" + url.PathEscape(runID),
		Retry:  true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get run %s of %s", runID, workflow)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_ = restclient.Decode(resp, nil)
		return nil, ErrNotFound
	default:
		return nil, errors.Wrapf(restclient.UnexpectedStatus(resp), "cannot get run %s of %s", runID, workflow)
	}

	run := &Run{}
	if err := restclient.Decode(resp, run); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs of workflow sorted by orderBy, e.g.
// "-start_date" for the most recent first.
func (c *Client) List(ctx context.Context, workflow string, limit int, orderBy string) ([]Run, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if orderBy != "" {
		query.Set("order_by", orderBy)
	}
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   runsPath(workflow),
		Query:  query,
		Retry:  true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list runs of %s", workflow)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(restclient.UnexpectedStatus(resp), "cannot list runs of %s", workflow)
	}

	var payload struct {
		Runs []Run `json:"dag_runs"`
	}
	if err := restclient.Decode(resp, &payload); err != nil {
		return nil, err
	}
	return payload.Runs, nil
}
