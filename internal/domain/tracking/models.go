package tracking

import (
	"time"
)

type MovementType string

const (
	MovementEntry      MovementType = "entry"
	MovementExit       MovementType = "exit"
	MovementZoneChange MovementType = "zone_change"
	MovementDetection  MovementType = "detection"
)

// ParseMovementType validates a movement type coming from a manual
// registration. Plain detections cannot be entered manually.
func ParseMovementType(s string) (MovementType, bool) {
	switch MovementType(s) {
	case MovementEntry, MovementExit, MovementZoneChange:
		return MovementType(s), true
	}
	return "", false
}

type CameraRole string

const (
	RoleEntry CameraRole = "entry"
	RoleExit  CameraRole = "exit"
	RoleBoth  CameraRole = "both"
	RoleNone  CameraRole = "none"
)

type AlertType string

const (
	AlertInactivity        AlertType = "inactivity"
	AlertImplicitDelivery  AlertType = "implicit_delivery"
	AlertUnregisteredPlate AlertType = "unregistered_plate"
)

type AlertPriority string

const (
	PriorityLow      AlertPriority = "low"
	PriorityMedium   AlertPriority = "medium"
	PriorityHigh     AlertPriority = "high"
	PriorityCritical AlertPriority = "critical"
)

// DetectionPayload is what an LPR camera posts when it reads a plate.
type DetectionPayload struct {
	Plate      string   `json:"plate"`
	CameraCode string   `json:"camera_code"`
	Confidence *float64 `json:"confidence,omitempty"`
	ImageRef   string   `json:"image_ref,omitempty"`
}

// ManualMovement is an operator-entered movement that bypasses camera-role
// inference.
type ManualMovement struct {
	VehicleID  int64  `json:"vehicle_id"`
	Type       string `json:"type"`
	DestZoneID *int64 `json:"dest_zone_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// VehicleState is the live location state the classifier reads and rewrites.
// CurrentZone is non-nil only while Present is true.
type VehicleState struct {
	Present        bool
	CurrentZone    *int64
	FirstEntryAt   *time.Time
	LastEntryAt    *time.Time
	LastExitAt     *time.Time
	LastMovementAt *time.Time
}

// CameraView is the classifier's read-only view of the detecting camera.
type CameraView struct {
	Role CameraRole
	Zone *int64
}

// Transition is one classified movement: its type, the audit zones, and the
// vehicle state after applying it.
type Transition struct {
	Type       MovementType
	OriginZone *int64
	DestZone   *int64
	State      VehicleState
}

// ProcessResult is returned to the detection submitter.
type ProcessResult struct {
	MovementID   int64        `json:"movement_id"`
	VehicleID    int64        `json:"vehicle_id"`
	Plate        string       `json:"plate"`
	Type         MovementType `json:"type"`
	IsNewVehicle bool         `json:"is_new_vehicle"`
	DestZoneID   *int64       `json:"dest_zone_id,omitempty"`
}

// SweepResult reports how many alerts each inference rule created.
type SweepResult struct {
	InactivityAlerts       int `json:"inactivity_alerts"`
	ImplicitDeliveryAlerts int `json:"implicit_delivery_alerts"`
	Failed                 int `json:"failed"`
}
