package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// groupByParent bundles applications sharing a parent, keeping the order in
// which groups first appear.
func groupByParent(apps []model.Application) [][]model.Application {
	index := make(map[uint64]int)
	var groups [][]model.Application
	for _, app := range apps {
		key := app.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], app)
	}
	return groups
}

// notifyGrouped sends one notification per parent group.  Failures are
// logged; the applications are already committed.
func notifyGrouped(ctx context.Context, n Notifier, log *zap.Logger, apps []model.Application, isNew bool) {
	if n == nil {
		return
	}
	for _, group := range groupByParent(apps) {
		var err error
		if len(group) > 1 {
			err = n.NotifyApplicationGroup(ctx, group, isNew)
		} else {
			err = n.NotifyApplication(ctx, group[0], isNew)
		}
		if err != nil {
			log.Warn("application notification failed",
				zap.Uint64("group", group[0].GroupKey()), zap.Int("size", len(group)), zap.Error(err))
		}
	}
}
