package configstore

import (
	"context"
	"encoding/json"

	"github.com/airbyte-oss/scheduler-core/internal/models"
)

// syncDoc is the on-disk shape of a STANDARD_SYNC config document.
type syncDoc struct {
	ConnectionID           string          `json:"connectionId"`
	SourceID               string          `json:"sourceId"`
	DestinationID          string          `json:"destinationId"`
	Status                 string          `json:"status"`
	ScheduleType           string          `json:"scheduleType"`
	ScheduleUnits          int             `json:"scheduleUnits"`
	ScheduleTimeUnit       string          `json:"scheduleTimeUnit"`
	ScheduleCronExpression string          `json:"scheduleCronExpression"`
	Catalog                json.RawMessage `json:"catalog"`
}

// ListActiveConnections satisfies scheduler.ConnectionSource by reading
// every STANDARD_SYNC document and filtering to ACTIVE connections.
func (r *Repository) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	ids, err := r.List(KindStandardSync)
	if err != nil {
		return nil, err
	}

	var conns []models.Connection
	for _, id := range ids {
		var doc syncDoc
		if err := r.Get(KindStandardSync, id, &doc); err != nil {
			r.log.Error(err, "configstore: failed reading connection doc", "id", id)
			continue
		}
		if models.ConnectionStatus(doc.Status) != models.ConnectionActive {
			continue
		}
		conns = append(conns, models.Connection{
			ConnectionID:  doc.ConnectionID,
			SourceID:      doc.SourceID,
			DestinationID: doc.DestinationID,
			Status:        models.ConnectionActive,
			CatalogJSON:   doc.Catalog,
			Schedule: models.Schedule{
				Kind:  models.ScheduleKind(doc.ScheduleType),
				Units: doc.ScheduleUnits,
				Unit:  models.TimeUnit(doc.ScheduleTimeUnit),
				Expr:  doc.ScheduleCronExpression,
			},
		})
	}
	return conns, nil
}
