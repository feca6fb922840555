package tracking

import "time"

// Classify decides what a detection means for a vehicle given the detecting
// camera's role and zone. Branches are evaluated in priority order: entry,
// exit, zone change, plain detection. The returned transition carries the
// vehicle state after the event; OriginZone is the zone before it.
//
// A camera with no entry/exit role can only yield zone changes or detections,
// and a camera with no configured zone can never yield a zone change.
func Classify(state VehicleState, cam CameraView, now time.Time) Transition {
	origin := state.CurrentZone
	next := state
	next.LastMovementAt = &now

	var movementType MovementType
	switch {
	case cam.Role == RoleEntry || (cam.Role == RoleBoth && !state.Present):
		movementType = MovementEntry
		next.Present = true
		next.CurrentZone = cam.Zone
		next.LastEntryAt = &now
		if next.FirstEntryAt == nil {
			next.FirstEntryAt = &now
		}

	case cam.Role == RoleExit || (cam.Role == RoleBoth && state.Present):
		movementType = MovementExit
		next.Present = false
		next.CurrentZone = nil
		next.LastExitAt = &now

	case cam.Zone != nil && !sameZone(cam.Zone, state.CurrentZone):
		movementType = MovementZoneChange
		next.CurrentZone = cam.Zone

	default:
		movementType = MovementDetection
		if cam.Zone != nil {
			next.CurrentZone = cam.Zone
		}
	}

	return Transition{
		Type:       movementType,
		OriginZone: origin,
		DestZone:   cam.Zone,
		State:      next,
	}
}

func sameZone(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
