package service

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// materializeEvents creates one event per application date.
func materializeEvents(ctx context.Context, q repository.DBTX, events EventStore, app *model.Application) ([]model.Event, error) {
	out := make([]model.Event, 0, len(app.Dates))
	appID := app.ID
	for _, iv := range app.Dates {
		ev := model.Event{
			ApplicationID: &appID,
			BuildingID:    app.BuildingID,
			BuildingName:  app.BuildingName,
			ActivityID:    app.ActivityID,
			Name:          app.Name,
			Organizer:     app.Organizer,
			Interval:      iv,
			Contact:       app.Contact,
			Secret:        newSecret(),
			Resources:     app.Resources,
		}
		if err := events.CreateTx(ctx, q, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
