package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"shipsync/internal/model"
	"shipsync/internal/store"
)

// LabelManager drives label-file creation and download bookkeeping.
type LabelManager struct {
	Store store.Store
	API   API
}

func NewLabelManager(s store.Store, api API) *LabelManager {
	return &LabelManager{Store: s, API: api}
}

// CreateLabels requests one label file covering the shipments of the given
// orders. Orders without a registered shipment are rejected up front; the
// file itself arrives later via the labelFile.ready webhook.
func (lm *LabelManager) CreateLabels(ctx context.Context, orderIDs []string) (model.LabelFile, error) {
	if len(orderIDs) == 0 {
		return model.LabelFile{}, errors.New("labels: no orders given")
	}
	shipmentIDs := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		o, err := lm.Store.GetOrder(ctx, id)
		if err != nil {
			return model.LabelFile{}, fmt.Errorf("labels: order %s: %w", id, err)
		}
		shipmentID := o.GetMeta(model.MetaShipmentID)
		if shipmentID == "" {
			return model.LabelFile{}, fmt.Errorf("labels: order %s: %w", id, ErrNoShipment)
		}
		shipmentIDs = append(shipmentIDs, shipmentID)
	}
	return lm.API.CreateLabelFile(ctx, shipmentIDs)
}

// GetLabelFile polls a label file by its UUID.
func (lm *LabelManager) GetLabelFile(ctx context.Context, labelFileID string) (model.LabelFile, error) {
	if _, err := uuid.Parse(labelFileID); err != nil {
		return model.LabelFile{}, fmt.Errorf("labels: invalid label file id: %w", store.ErrNotFound)
	}
	return lm.API.GetLabelFile(ctx, labelFileID)
}

// MarkDownloaded records that the merchant pulled labels for the orders.
func (lm *LabelManager) MarkDownloaded(ctx context.Context, orderIDs []string) error {
	for _, id := range orderIDs {
		if err := lm.Store.SetOrderMeta(ctx, id, map[string]string{model.MetaLabelPrinted: "yes"}); err != nil {
			return fmt.Errorf("labels: order %s: %w", id, err)
		}
	}
	return nil
}
