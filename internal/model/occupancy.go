package model

// Event is a confirmed occupancy produced when an application is accepted,
// one per application date.
type Event struct {
	ID            uint64       // bb_event.id
	ApplicationID *uint64      // bb_event.application_id (nullable)
	BuildingID    uint64       // bb_event.building_id
	BuildingName  string       // bb_event.building_name
	ActivityID    *uint64      // bb_event.activity_id (nullable)
	Name          string       // bb_event.name
	Organizer     string       // bb_event.organizer
	Interval      TimeInterval // bb_event.from_ / to_
	Active        bool         // bb_event.active
	Contact       ContactInfo  // copied from the application
	Secret        string       // bb_event.secret
	Resources     []uint64     // bb_event_resource.resource_id
}

// Allocation is a season grant of resources to an organization.  It is
// read-only here and always counts as occupancy.
type Allocation struct {
	ID             uint64       // bb_allocation.id
	OrganizationID uint64       // bb_allocation.organization_id
	BuildingID     uint64       // bb_allocation.building_id
	Interval       TimeInterval // bb_allocation.from_ / to_
	Active         bool         // bb_allocation.active
	Resources      []uint64     // bb_allocation_resource.resource_id
}
