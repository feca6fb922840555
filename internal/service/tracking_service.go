package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"vehicle-tracker/internal/domain/tracking"
	"vehicle-tracker/internal/repository"
	"vehicle-tracker/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("concurrent update conflict")
)

type TrackingService struct {
	repo  *repository.TrackingRepository
	locks *plateLocks
	log   zerolog.Logger
}

func NewTrackingService(repo *repository.TrackingRepository, log zerolog.Logger) *TrackingService {
	return &TrackingService{
		repo:  repo,
		locks: newPlateLocks(),
		log:   log,
	}
}

// ProcessDetection runs the full pipeline for one camera detection: validate,
// normalize the plate, resolve the vehicle, classify the movement, persist the
// new state and append the ledger row. The sequence is serialized per plate
// key; a storage conflict is retried once before being surfaced.
func (s *TrackingService) ProcessDetection(ctx context.Context, payload tracking.DetectionPayload) (*tracking.ProcessResult, error) {
	if payload.Plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if payload.CameraCode == "" {
		return nil, fmt.Errorf("%w: camera_code is required", ErrInvalidInput)
	}
	if payload.Confidence != nil && (*payload.Confidence < 0 || *payload.Confidence > 100) {
		return nil, fmt.Errorf("%w: confidence must be between 0 and 100", ErrInvalidInput)
	}

	normalized := utils.NormalizePlate(payload.Plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}

	camera, err := s.repo.GetCameraByCode(ctx, strings.ToUpper(payload.CameraCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown camera %s", ErrInvalidInput, payload.CameraCode)
		}
		return nil, fmt.Errorf("failed to look up camera: %w", err)
	}
	if !camera.Active {
		return nil, fmt.Errorf("%w: camera %s is inactive", ErrInvalidInput, camera.Code)
	}

	unlock := s.locks.lock(normalized)
	defer unlock()

	result, err := s.processLocked(ctx, payload, normalized, camera)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.log.Warn().
			Str("plate", normalized).
			Msg("storage conflict during detection, retrying once")
		result, err = s.processLocked(ctx, payload, normalized, camera)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, normalized)
		}
	}
	return result, err
}

func (s *TrackingService) processLocked(ctx context.Context, payload tracking.DetectionPayload, normalized string, camera *repository.Camera) (*tracking.ProcessResult, error) {
	vehicle, isNew, err := s.repo.GetOrCreateVehicle(ctx, normalized)
	if err != nil {
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to resolve vehicle")
		return nil, fmt.Errorf("failed to resolve vehicle: %w", err)
	}

	if isNew {
		if err := s.raiseUnregisteredPlateAlert(ctx, vehicle, camera); err != nil {
			return nil, err
		}
	}

	role := tracking.CameraRole(camera.Role)
	if role == "" {
		role = tracking.RoleNone
	}

	now := time.Now()
	transition := tracking.Classify(vehicle.State(), tracking.CameraView{Role: role, Zone: camera.ZoneID}, now)

	if err := s.repo.SaveVehicleState(ctx, vehicle.ID, transition.State); err != nil {
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to update vehicle state")
		return nil, fmt.Errorf("failed to update vehicle state: %w", err)
	}

	movement := &repository.Movement{
		VehicleID:     vehicle.ID,
		Type:          string(transition.Type),
		OriginZoneID:  transition.OriginZone,
		DestZoneID:    transition.DestZone,
		CameraID:      &camera.ID,
		DetectedPlate: &normalized,
		Confidence:    payload.Confidence,
		OccurredAt:    now,
	}
	if payload.Plate != normalized {
		raw := payload.Plate
		movement.RawPlate = &raw
	}
	if payload.ImageRef != "" {
		ref := payload.ImageRef
		movement.ImageRef = &ref
	}

	if err := s.repo.AppendMovement(ctx, movement); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", normalized).
			Str("camera_code", camera.Code).
			Msg("failed to append movement")
		return nil, fmt.Errorf("failed to append movement: %w", err)
	}

	s.log.Info().
		Int64("movement_id", movement.ID).
		Int64("vehicle_id", vehicle.ID).
		Str("plate", normalized).
		Str("raw_plate", payload.Plate).
		Str("camera_code", camera.Code).
		Str("type", string(transition.Type)).
		Bool("new_vehicle", isNew).
		Msg("processed detection")

	return &tracking.ProcessResult{
		MovementID:   movement.ID,
		VehicleID:    vehicle.ID,
		Plate:        normalized,
		Type:         transition.Type,
		IsNewVehicle: isNew,
		DestZoneID:   transition.DestZone,
	}, nil
}

func (s *TrackingService) raiseUnregisteredPlateAlert(ctx context.Context, vehicle *repository.Vehicle, camera *repository.Camera) error {
	message := fmt.Sprintf("Plate %s was detected but is not registered in the system. Detected by camera %s.",
		vehicle.Plate, camera.Code)
	alert := &repository.Alert{
		Type:      string(tracking.AlertUnregisteredPlate),
		VehicleID: &vehicle.ID,
		Title:     fmt.Sprintf("Unregistered plate: %s", vehicle.Plate),
		Message:   &message,
		Priority:  string(tracking.PriorityMedium),
	}
	created, err := s.repo.CreateAlertIfAbsent(ctx, alert)
	if err != nil {
		s.log.Error().Err(err).Str("plate", vehicle.Plate).Msg("failed to create unregistered plate alert")
		return fmt.Errorf("failed to create unregistered plate alert: %w", err)
	}
	if created {
		s.log.Info().
			Str("plate", vehicle.Plate).
			Int64("vehicle_id", vehicle.ID).
			Msg("unregistered plate alert created")
	}
	return nil
}

// RecordManualMovement applies an operator-entered movement to a vehicle,
// bypassing camera-role inference. Zone changes require a destination zone and
// exits always clear it.
func (s *TrackingService) RecordManualMovement(ctx context.Context, input tracking.ManualMovement, actorID string) (int64, error) {
	movementType, ok := tracking.ParseMovementType(input.Type)
	if !ok {
		return 0, fmt.Errorf("%w: movement type must be entry, exit or zone_change", ErrInvalidInput)
	}
	if movementType == tracking.MovementZoneChange && input.DestZoneID == nil {
		return 0, fmt.Errorf("%w: dest_zone_id is required for zone_change", ErrInvalidInput)
	}
	if input.DestZoneID != nil {
		if _, err := s.repo.GetZone(ctx, *input.DestZoneID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("%w: zone %d", ErrNotFound, *input.DestZoneID)
			}
			return 0, fmt.Errorf("failed to look up zone: %w", err)
		}
	}

	vehicle, err := s.repo.GetVehicle(ctx, input.VehicleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: vehicle %d", ErrNotFound, input.VehicleID)
		}
		return 0, fmt.Errorf("failed to look up vehicle: %w", err)
	}

	unlock := s.locks.lock(vehicle.Plate)
	defer unlock()

	// Re-read inside the critical section so a racing detection cannot be
	// overwritten with stale state.
	vehicle, err = s.repo.GetVehicle(ctx, input.VehicleID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up vehicle: %w", err)
	}

	now := time.Now()
	state := vehicle.State()
	origin := state.CurrentZone
	dest := input.DestZoneID

	switch movementType {
	case tracking.MovementEntry:
		state.Present = true
		state.CurrentZone = dest
		state.LastEntryAt = &now
		if state.FirstEntryAt == nil {
			state.FirstEntryAt = &now
		}
	case tracking.MovementExit:
		state.Present = false
		state.CurrentZone = nil
		state.LastExitAt = &now
		dest = nil
	case tracking.MovementZoneChange:
		state.CurrentZone = dest
	}
	state.LastMovementAt = &now

	if err := s.repo.SaveVehicleState(ctx, vehicle.ID, state); err != nil {
		return 0, fmt.Errorf("failed to update vehicle state: %w", err)
	}

	movement := &repository.Movement{
		VehicleID:    vehicle.ID,
		Type:         string(movementType),
		OriginZoneID: origin,
		DestZoneID:   dest,
		OccurredAt:   now,
		Manual:       true,
		RecordedBy:   &actorID,
	}
	if input.Notes != "" {
		notes := input.Notes
		movement.Notes = &notes
	}

	if err := s.repo.AppendMovement(ctx, movement); err != nil {
		return 0, fmt.Errorf("failed to append movement: %w", err)
	}

	s.log.Info().
		Int64("movement_id", movement.ID).
		Int64("vehicle_id", vehicle.ID).
		Str("plate", vehicle.Plate).
		Str("type", string(movementType)).
		Str("actor", actorID).
		Msg("manual movement recorded")

	return movement.ID, nil
}

func (s *TrackingService) FindVehicleMovements(ctx context.Context, vehicleID int64, limit int) ([]MovementInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	vehicle, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: vehicle %d", ErrNotFound, vehicleID)
		}
		return nil, fmt.Errorf("failed to look up vehicle: %w", err)
	}

	movements, err := s.repo.FindMovementsByVehicle(ctx, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find movements: %w", err)
	}

	result := make([]MovementInfo, 0, len(movements))
	for _, m := range movements {
		result = append(result, movementInfo(m, vehicle.Plate))
	}
	return result, nil
}

func (s *TrackingService) FindRecentMovements(ctx context.Context, movementType *string, zoneID *int64, limit int) ([]MovementInfo, error) {
	if movementType != nil {
		if _, ok := tracking.ParseMovementType(*movementType); !ok && *movementType != string(tracking.MovementDetection) {
			return nil, fmt.Errorf("%w: unknown movement type %s", ErrInvalidInput, *movementType)
		}
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	movements, err := s.repo.FindRecentMovements(ctx, movementType, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find movements: %w", err)
	}

	result := make([]MovementInfo, 0, len(movements))
	for _, m := range movements {
		plate := ""
		if vehicle, err := s.repo.GetVehicle(ctx, m.VehicleID); err == nil {
			plate = vehicle.Plate
		}
		result = append(result, movementInfo(m, plate))
	}
	return result, nil
}

func movementInfo(m repository.Movement, plate string) MovementInfo {
	return MovementInfo{
		ID:           m.ID,
		VehicleID:    m.VehicleID,
		Plate:        plate,
		Type:         m.Type,
		OriginZoneID: m.OriginZoneID,
		DestZoneID:   m.DestZoneID,
		CameraID:     m.CameraID,
		Confidence:   m.Confidence,
		OccurredAt:   m.OccurredAt,
		Manual:       m.Manual,
		RecordedBy:   m.RecordedBy,
		Notes:        m.Notes,
	}
}

type MovementInfo struct {
	ID           int64     `json:"id"`
	VehicleID    int64     `json:"vehicle_id"`
	Plate        string    `json:"plate"`
	Type         string    `json:"type"`
	OriginZoneID *int64    `json:"origin_zone_id,omitempty"`
	DestZoneID   *int64    `json:"dest_zone_id,omitempty"`
	CameraID     *int64    `json:"camera_id,omitempty"`
	Confidence   *float64  `json:"confidence,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	Manual       bool      `json:"manual"`
	RecordedBy   *string   `json:"recorded_by,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}
