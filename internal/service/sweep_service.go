package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vehicle-tracker/internal/domain/tracking"
	"vehicle-tracker/internal/repository"
)

// SweepService runs the periodic alert-inference rules over the vehicle
// population. Both rules are idempotent: re-running them creates no duplicate
// alerts while an unresolved one of the same type exists for a vehicle.
type SweepService struct {
	repo            *repository.TrackingRepository
	locks           *plateLocks
	inactivityDays  int
	deliveryMinutes int
	log             zerolog.Logger
}

func NewSweepService(repo *repository.TrackingRepository, tracker *TrackingService, inactivityDays, deliveryMinutes int, log zerolog.Logger) *SweepService {
	return &SweepService{
		repo:            repo,
		locks:           tracker.locks,
		inactivityDays:  inactivityDays,
		deliveryMinutes: deliveryMinutes,
		log:             log,
	}
}

// Run executes both inference rules and reports how many alerts each created.
// A failure on one vehicle is logged and skipped, never aborting the sweep.
func (s *SweepService) Run(ctx context.Context) (*tracking.SweepResult, error) {
	result := &tracking.SweepResult{}

	inactivity, failed, err := s.RunInactivity(ctx)
	if err != nil {
		return nil, err
	}
	result.InactivityAlerts = inactivity
	result.Failed += failed

	delivery, failed, err := s.RunImplicitDelivery(ctx)
	if err != nil {
		return nil, err
	}
	result.ImplicitDeliveryAlerts = delivery
	result.Failed += failed

	s.log.Info().
		Int("inactivity_alerts", result.InactivityAlerts).
		Int("implicit_delivery_alerts", result.ImplicitDeliveryAlerts).
		Int("failed", result.Failed).
		Msg("sweep finished")

	return result, nil
}

// RunInactivity raises a high-priority alert for every vehicle that is inside
// the facility and has not moved for the configured number of days.
func (s *SweepService) RunInactivity(ctx context.Context) (created, failed int, err error) {
	cutoff := time.Now().Add(-time.Duration(s.inactivityDays) * 24 * time.Hour)

	vehicles, err := s.repo.FindInactiveVehicles(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find inactive vehicles: %w", err)
	}

	for i := range vehicles {
		vehicle := &vehicles[i]
		ok, alertErr := s.alertInactiveVehicle(ctx, vehicle, cutoff)
		if alertErr != nil {
			failed++
			s.log.Error().
				Err(alertErr).
				Int64("vehicle_id", vehicle.ID).
				Str("plate", vehicle.Plate).
				Msg("inactivity sweep failed for vehicle, skipping")
			continue
		}
		if ok {
			created++
		}
	}

	return created, failed, nil
}

func (s *SweepService) alertInactiveVehicle(ctx context.Context, vehicle *repository.Vehicle, cutoff time.Time) (bool, error) {
	unlock := s.locks.lock(vehicle.Plate)
	defer unlock()

	// Re-read inside the critical section; a detection may have landed
	// between the list query and the lock.
	vehicle, err := s.repo.GetVehicle(ctx, vehicle.ID)
	if err != nil {
		return false, err
	}
	if !vehicle.Present || vehicle.LastMovementAt == nil || !vehicle.LastMovementAt.Before(cutoff) {
		return false, nil
	}
	days := int(time.Since(*vehicle.LastMovementAt).Hours() / 24)

	message := fmt.Sprintf("Vehicle %s has not moved for %d days. Last movement: %s.",
		vehicle.Plate, days, vehicle.LastMovementAt.Format("02/01/2006 15:04"))
	alert := &repository.Alert{
		Type:      string(tracking.AlertInactivity),
		VehicleID: &vehicle.ID,
		Title:     fmt.Sprintf("Inactive vehicle: %s", vehicle.Plate),
		Message:   &message,
		Priority:  string(tracking.PriorityHigh),
	}

	created, err := s.repo.CreateAlertIfAbsent(ctx, alert)
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info().
			Int64("vehicle_id", vehicle.ID).
			Str("plate", vehicle.Plate).
			Int("days_inactive", days).
			Msg("inactivity alert created")
	}
	return created, nil
}

// RunImplicitDelivery reconciles vehicles whose ledger ends in an exit older
// than the configured window but are still flagged present. Exit
// classification already clears the flag; this pass catches state that drifted
// back, for example a later contradicting detection or a manual override.
func (s *SweepService) RunImplicitDelivery(ctx context.Context) (created, failed int, err error) {
	ids, err := s.repo.ListActiveVehicleIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list vehicles: %w", err)
	}

	window := time.Duration(s.deliveryMinutes) * time.Minute

	for _, id := range ids {
		ok, deliveryErr := s.reconcileDeparture(ctx, id, window)
		if deliveryErr != nil {
			failed++
			s.log.Error().
				Err(deliveryErr).
				Int64("vehicle_id", id).
				Msg("implicit delivery sweep failed for vehicle, skipping")
			continue
		}
		if ok {
			created++
		}
	}

	return created, failed, nil
}

func (s *SweepService) reconcileDeparture(ctx context.Context, vehicleID int64, window time.Duration) (bool, error) {
	vehicle, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(vehicle.Plate)
	defer unlock()

	// Re-read inside the critical section; a detection may just have moved
	// the vehicle.
	vehicle, err = s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return false, err
	}

	latest, err := s.repo.LatestMovement(ctx, vehicleID)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Type != string(tracking.MovementExit) {
		return false, nil
	}
	if time.Since(latest.OccurredAt) <= window {
		return false, nil
	}
	if !vehicle.Present {
		return false, nil
	}

	s.log.Warn().
		Int64("vehicle_id", vehicle.ID).
		Str("plate", vehicle.Plate).
		Time("exited_at", latest.OccurredAt).
		Msg("presence flag contradicts exit ledger, forcing absent")

	state := vehicle.State()
	state.Present = false
	state.CurrentZone = nil

	message := fmt.Sprintf("Vehicle %s has not been detected for more than %d minutes since its last exit. It is presumed delivered.",
		vehicle.Plate, s.deliveryMinutes)
	alert := &repository.Alert{
		Type:      string(tracking.AlertImplicitDelivery),
		VehicleID: &vehicle.ID,
		Title:     fmt.Sprintf("Possible delivery: %s", vehicle.Plate),
		Message:   &message,
		Priority:  string(tracking.PriorityLow),
	}

	// Flag flip and alert land together or not at all; a transient failure
	// leaves the vehicle inconsistent so the next sweep retries.
	created, err := s.repo.ForceAbsentWithAlert(ctx, vehicle.ID, state, alert)
	if err != nil {
		return false, err
	}
	return created, nil
}
