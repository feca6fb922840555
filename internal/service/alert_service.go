package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"vehicle-tracker/internal/repository"
)

// AlertService is the user-facing side of alerts: listing, counters and the
// read/resolve lifecycle. Alert creation belongs to the tracking and sweep
// services.
type AlertService struct {
	repo *repository.TrackingRepository
	log  zerolog.Logger
}

func NewAlertService(repo *repository.TrackingRepository, log zerolog.Logger) *AlertService {
	return &AlertService{repo: repo, log: log}
}

func (s *AlertService) FindAlerts(ctx context.Context, filter repository.AlertFilter, limit, offset int) ([]AlertInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	alerts, err := s.repo.FindAlerts(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}

	result := make([]AlertInfo, 0, len(alerts))
	for _, a := range alerts {
		info := alertInfo(a)
		if a.VehicleID != nil {
			if vehicle, err := s.repo.GetVehicle(ctx, *a.VehicleID); err == nil {
				info.Plate = &vehicle.Plate
			}
		}
		result = append(result, info)
	}
	return result, nil
}

func (s *AlertService) Get(ctx context.Context, id int64) (*AlertInfo, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: alert %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up alert: %w", err)
	}

	info := alertInfo(*alert)
	if alert.VehicleID != nil {
		if vehicle, err := s.repo.GetVehicle(ctx, *alert.VehicleID); err == nil {
			info.Plate = &vehicle.Plate
		}
	}
	return &info, nil
}

func (s *AlertService) Counters(ctx context.Context) (*repository.AlertCounters, error) {
	counters, err := s.repo.CountUnresolvedAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	return counters, nil
}

func (s *AlertService) MarkRead(ctx context.Context, id int64) error {
	err := s.repo.MarkAlertRead(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: alert %d", ErrNotFound, id)
	}
	return err
}

func (s *AlertService) Resolve(ctx context.Context, id int64, resolvedBy string, notes *string) error {
	err := s.repo.ResolveAlert(ctx, id, resolvedBy, notes)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: alert %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	s.log.Info().
		Int64("alert_id", id).
		Str("resolved_by", resolvedBy).
		Msg("alert resolved")
	return nil
}

func (s *AlertService) MarkAllRead(ctx context.Context) (int64, error) {
	return s.repo.MarkAllAlertsRead(ctx)
}

func alertInfo(a repository.Alert) AlertInfo {
	return AlertInfo{
		ID:         a.ID,
		Type:       a.Type,
		VehicleID:  a.VehicleID,
		Title:      a.Title,
		Message:    a.Message,
		Priority:   a.Priority,
		Read:       a.Read,
		Resolved:   a.Resolved,
		ResolvedAt: a.ResolvedAt,
		CreatedAt:  a.CreatedAt,
	}
}

type AlertInfo struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	VehicleID  *int64     `json:"vehicle_id,omitempty"`
	Plate      *string    `json:"plate,omitempty"`
	Title      string     `json:"title"`
	Message    *string    `json:"message,omitempty"`
	Priority   string     `json:"priority"`
	Read       bool       `json:"read"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
