package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/biodiversity-data/publishing-gateway/auth"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/notify"
	"github.com/biodiversity-data/publishing-gateway/workflow"
)

// Unpublish starts the removal of the records of the dataset uid. The
// registry record and the published archive are retained. Owners may
// unpublish their datasets without the publisher role.
func (g *Gateway) Unpublish(ctx context.Context, uid string, id *auth.Identity) (res *Result, err error) {
	defer g.observe("unpublish", &err)

	if id == nil {
		return nil, gErrors.New(gErrors.NotAuthorized, "You are not authorised to unpublish datasets")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, gErrors.New(gErrors.InvalidDataResourceUID, "A data resource UID is required")
	}
	record, err := g.lookup(ctx, uid, id.CanModify)
	if err != nil {
		return nil, err
	}

	runID := g.newID()
	err = g.trigger(ctx, g.config.DeleteWorkflow, &workflow.RunRequest{
		RunID: runID,
		Note:  "Delete from API call - " + record.Name,
		Conf: map[string]string{
			"userid":                 id.ID,
			"userEmail":              id.Email,
			"userDisplayName":        id.DisplayName,
			"dataset_name":           record.Name,
			"datasetIds":             uid,
			"remove_records_in_solr": strconv.FormatBool(g.config.RemoveRecordsInSolr),
			"remove_records_in_es":   strconv.FormatBool(g.config.RemoveRecordsInES),
			"delete_avro_files":      strconv.FormatBool(g.config.DeleteAvroFiles),
			"retain_dwca":            "true",
			"retain_uuid":            "true",
		},
	}, uid)
	if err != nil {
		return nil, err
	}
	g.logger.WithFields(logrus.Fields{"uid": uid, "runID": runID}).Info("Dataset delete started")

	g.notify(ctx, &notify.Event{
		Type:            notify.DatasetUnpublished,
		DataResourceUID: uid,
		RequestID:       runID,
		DatasetName:     record.Name,
		UserID:          id.ID,
	})

	return g.result(runID, uid, "Dataset delete request started"), nil
}
