// Package queue carries application notifications over RabbitMQ.
package queue

import (
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// Notification kinds.
const (
	KindApplication      = "application"
	KindApplicationGroup = "application_group"
)

// ApplicationSummary is the part of an application a notification needs.
// Personal identity numbers are never included.
type ApplicationSummary struct {
	ID           uint64   `json:"id"`
	ParentID     uint64   `json:"parent_id,omitempty"`
	Status       string   `json:"status"`
	BuildingID   uint64   `json:"building_id"`
	BuildingName string   `json:"building_name"`
	Name         string   `json:"name"`
	Secret       string   `json:"secret"`
	Resources    []uint64 `json:"resources"`
	Dates        []Period `json:"dates"`
}

// Period is a date range in RFC 3339.
type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NotificationEvent is published once per application, or once per parent
// group, after the applications are committed.  It holds enough to send
// the confirmation without reading the database.
type NotificationEvent struct {
	Kind         string               `json:"kind"`
	IsNew        bool                 `json:"is_new"`
	ContactName  string               `json:"contact_name"`
	ContactEmail string               `json:"contact_email"`
	ContactPhone string               `json:"contact_phone"`
	Applications []ApplicationSummary `json:"applications"`
	CreatedAt    string               `json:"created_at"`
}

// NewNotificationEvent builds the event for apps.  The contact data of the
// first application addresses the whole group.
func NewNotificationEvent(apps []model.Application, isNew bool, now time.Time) NotificationEvent {
	ev := NotificationEvent{
		Kind:      KindApplication,
		IsNew:     isNew,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	if len(apps) > 1 {
		ev.Kind = KindApplicationGroup
	}
	if len(apps) > 0 {
		c := apps[0].Contact
		ev.ContactName, ev.ContactEmail, ev.ContactPhone = c.ContactName, c.ContactEmail, c.ContactPhone
	}
	for _, a := range apps {
		s := ApplicationSummary{
			ID:           a.ID,
			Status:       string(a.Status),
			BuildingID:   a.BuildingID,
			BuildingName: a.BuildingName,
			Name:         a.Name,
			Secret:       a.Secret,
			Resources:    a.Resources,
		}
		if a.ParentID != nil {
			s.ParentID = *a.ParentID
		}
		for _, iv := range a.Dates {
			s.Dates = append(s.Dates, Period{
				From: iv.From.UTC().Format(time.RFC3339),
				To:   iv.To.UTC().Format(time.RFC3339),
			})
		}
		ev.Applications = append(ev.Applications, s)
	}
	return ev
}
