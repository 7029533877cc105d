package model

import "time"

// ApplicationStatus is the lifecycle state of an application.
type ApplicationStatus string

const (
	// StatusDraft marks a cart item that has not been submitted yet.
	StatusDraft    ApplicationStatus = "NEWPARTIAL1"
	StatusNew      ApplicationStatus = "NEW"
	StatusAccepted ApplicationStatus = "ACCEPTED"
	StatusRejected ApplicationStatus = "REJECTED"
)

// Customer identifier types accepted at checkout.
const (
	CustomerSSN          = "ssn"
	CustomerOrganization = "organization_number"
)

// Application is a reservation request.  While Status is StatusDraft it is
// scoped to SessionID and may be edited freely; checkout moves it to a
// terminal status and clears SessionID.
type Application struct {
	ID            uint64            `json:"id"`
	Status        ApplicationStatus `json:"status"`
	SessionID     *string           `json:"session_id,omitempty"`
	Active        bool              `json:"active"`
	BuildingID    uint64            `json:"building_id"`
	BuildingName  string            `json:"building_name"`
	ActivityID    *uint64           `json:"activity_id,omitempty"`
	Name          string            `json:"name"`
	Organizer     string            `json:"organizer"`
	Description   string            `json:"description,omitempty"`
	Equipment     string            `json:"equipment,omitempty"`
	Contact       ContactInfo       `json:"contact"`
	ParentID      *uint64           `json:"parent_id,omitempty"`
	RecurringInfo *string           `json:"recurring_info,omitempty"`
	Secret        string            `json:"-"`
	Created       time.Time         `json:"created"`
	Modified      time.Time         `json:"modified"`

	Resources []uint64       `json:"resources"`
	Dates     []TimeInterval `json:"dates"`
}

// ContactInfo is the customer block merged into every draft at checkout.
type ContactInfo struct {
	ContactName                string  `json:"contact_name"`
	ContactEmail               string  `json:"contact_email"`
	ContactPhone               string  `json:"contact_phone"`
	ResponsibleStreet          string  `json:"responsible_street"`
	ResponsibleZipCode         string  `json:"responsible_zip_code"`
	ResponsibleCity            string  `json:"responsible_city"`
	CustomerIdentifierType     string  `json:"customer_identifier_type"`
	CustomerOrganizationNumber string  `json:"customer_organization_number,omitempty"`
	CustomerOrganizationName   string  `json:"customer_organization_name,omitempty"`
	CustomerOrganizationID     *uint64 `json:"customer_organization_id,omitempty"`
	CustomerSSN                string  `json:"-"`
}

// IsDraft reports whether the application is still a cart item.
func (a Application) IsDraft() bool { return a.Status == StatusDraft }

// IsRecurring reports whether the application carries recurring info.
func (a Application) IsRecurring() bool {
	return a.RecurringInfo != nil && *a.RecurringInfo != ""
}

// EarliestStart returns the first start among the application's dates.
func (a Application) EarliestStart() (time.Time, bool) {
	iv, ok := Earliest(a.Dates)
	return iv.From, ok
}

// GroupKey returns the id used to bundle notifications: the parent when set,
// the application itself otherwise.
func (a Application) GroupKey() uint64 {
	if a.ParentID != nil && *a.ParentID != 0 {
		return *a.ParentID
	}
	return a.ID
}
