package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"vehicle-tracker/internal/domain/tracking"
)

type TrackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

type Zone struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null;uniqueIndex"`
	Code      string `gorm:"not null;uniqueIndex"`
	Kind      *string
	Active    bool `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type Camera struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Code      string `gorm:"not null;uniqueIndex"`
	Role      string `gorm:"not null;default:none"`
	ZoneID    *int64
	Active    bool `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type Vehicle struct {
	ID             int64  `gorm:"primaryKey"`
	Plate          string `gorm:"not null;uniqueIndex"`
	Present        bool   `gorm:"not null;default:false"`
	CurrentZoneID  *int64
	FirstEntryAt   *time.Time
	LastEntryAt    *time.Time
	LastExitAt     *time.Time
	LastMovementAt *time.Time
	Active         bool `gorm:"not null;default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Movement struct {
	ID            int64  `gorm:"primaryKey"`
	VehicleID     int64  `gorm:"not null;index"`
	Type          string `gorm:"not null"`
	OriginZoneID  *int64
	DestZoneID    *int64
	CameraID      *int64
	DetectedPlate *string
	RawPlate      *string
	Confidence    *float64
	ImageRef      *string
	OccurredAt    time.Time `gorm:"not null;index"`
	Manual        bool      `gorm:"not null;default:false"`
	RecordedBy    *string
	Notes         *string
	CreatedAt     time.Time
}

type Alert struct {
	ID              int64  `gorm:"primaryKey"`
	Type            string `gorm:"not null;index"`
	VehicleID       *int64 `gorm:"index"`
	Title           string `gorm:"not null"`
	Message         *string
	Priority        string `gorm:"not null;default:medium"`
	Read            bool   `gorm:"not null;default:false"`
	Resolved        bool   `gorm:"not null;default:false"`
	ReadAt          *time.Time
	ResolvedAt      *time.Time
	ResolvedBy      *string
	ResolutionNotes *string
	CreatedAt       time.Time `gorm:"index"`
}

// State returns the classifier's view of the vehicle's live location state.
func (v *Vehicle) State() tracking.VehicleState {
	return tracking.VehicleState{
		Present:        v.Present,
		CurrentZone:    v.CurrentZoneID,
		FirstEntryAt:   v.FirstEntryAt,
		LastEntryAt:    v.LastEntryAt,
		LastExitAt:     v.LastExitAt,
		LastMovementAt: v.LastMovementAt,
	}
}

// GetOrCreateVehicle resolves a normalized plate to a vehicle, creating a
// blank record on first sighting. A create that loses a race on the plate
// unique index falls back to re-reading the winner's row.
func (r *TrackingRepository) GetOrCreateVehicle(ctx context.Context, normalized string) (*Vehicle, bool, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("plate = ?", normalized).First(&vehicle).Error
	if err == nil {
		return &vehicle, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	vehicle = Vehicle{
		Plate:     normalized,
		Active:    true,
		CreatedAt: time.Now(),
	}
	err = r.db.WithContext(ctx).Create(&vehicle).Error
	if err == nil {
		return &vehicle, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Where("plate = ?", normalized).First(&vehicle).Error; err != nil {
		return nil, false, err
	}
	return &vehicle, false, nil
}

func (r *TrackingRepository) GetVehicle(ctx context.Context, id int64) (*Vehicle, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).First(&vehicle, id).Error
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// SaveVehicleState writes the full live state back, including cleared fields.
func (r *TrackingRepository) SaveVehicleState(ctx context.Context, id int64, state tracking.VehicleState) error {
	return saveVehicleState(r.db.WithContext(ctx), id, state)
}

func saveVehicleState(tx *gorm.DB, id int64, state tracking.VehicleState) error {
	return tx.
		Model(&Vehicle{}).
		Where("id = ?", id).
		Select("present", "current_zone_id", "first_entry_at", "last_entry_at", "last_exit_at", "last_movement_at").
		Updates(Vehicle{
			Present:        state.Present,
			CurrentZoneID:  state.CurrentZone,
			FirstEntryAt:   state.FirstEntryAt,
			LastEntryAt:    state.LastEntryAt,
			LastExitAt:     state.LastExitAt,
			LastMovementAt: state.LastMovementAt,
		}).Error
}

func (r *TrackingRepository) GetCameraByCode(ctx context.Context, code string) (*Camera, error) {
	var camera Camera
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&camera).Error
	if err != nil {
		return nil, err
	}
	return &camera, nil
}

func (r *TrackingRepository) GetZone(ctx context.Context, id int64) (*Zone, error) {
	var zone Zone
	err := r.db.WithContext(ctx).First(&zone, id).Error
	if err != nil {
		return nil, err
	}
	return &zone, nil
}

func (r *TrackingRepository) AppendMovement(ctx context.Context, movement *Movement) error {
	if movement.OccurredAt.IsZero() {
		movement.OccurredAt = time.Now()
	}
	movement.CreatedAt = time.Now()
	return r.db.WithContext(ctx).Create(movement).Error
}

// LatestMovement returns the most recent movement for a vehicle; ties on the
// timestamp are broken by the monotonic id. Returns nil when the vehicle has
// no history yet.
func (r *TrackingRepository) LatestMovement(ctx context.Context, vehicleID int64) (*Movement, error) {
	var movement Movement
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("occurred_at DESC").
		Order("id DESC").
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *TrackingRepository) FindMovementsByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Movement, error) {
	var movements []Movement
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&movements).Error
	return movements, err
}

func (r *TrackingRepository) FindRecentMovements(ctx context.Context, movementType *string, zoneID *int64, limit int) ([]Movement, error) {
	query := r.db.WithContext(ctx).Model(&Movement{})

	if movementType != nil {
		query = query.Where("type = ?", *movementType)
	}
	if zoneID != nil {
		query = query.Where("origin_zone_id = ? OR dest_zone_id = ?", *zoneID, *zoneID)
	}

	var movements []Movement
	err := query.
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&movements).Error
	return movements, err
}

// FindInactiveVehicles returns vehicles still inside whose last movement is
// older than the cutoff.
func (r *TrackingRepository) FindInactiveVehicles(ctx context.Context, cutoff time.Time) ([]Vehicle, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("present = ?", true).
		Where("last_movement_at < ?", cutoff).
		Find(&vehicles).Error
	return vehicles, err
}

func (r *TrackingRepository) ListActiveVehicleIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Vehicle{}).
		Where("active = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// CreateAlertIfAbsent creates an alert unless the vehicle already has an
// unresolved one of the same type. The check and the insert run in one
// transaction; the partial unique index in the postgres schema backs the same
// invariant against writers outside this transaction.
func (r *TrackingRepository) CreateAlertIfAbsent(ctx context.Context, alert *Alert) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		created, txErr = createAlertIfAbsent(tx, alert)
		return txErr
	})
	return created, err
}

func createAlertIfAbsent(tx *gorm.DB, alert *Alert) (bool, error) {
	if alert.VehicleID != nil {
		var existing Alert
		err := tx.Where("vehicle_id = ? AND type = ? AND resolved = ?", *alert.VehicleID, alert.Type, false).
			First(&existing).Error
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}
	alert.CreatedAt = time.Now()
	if err := tx.Create(alert).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ForceAbsentWithAlert clears a vehicle's live state and raises the alert in
// one transaction. A failure on either side leaves both undone, so a later
// sweep still sees the inconsistent vehicle and can retry.
func (r *TrackingRepository) ForceAbsentWithAlert(ctx context.Context, vehicleID int64, state tracking.VehicleState, alert *Alert) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveVehicleState(tx, vehicleID, state); err != nil {
			return err
		}
		var txErr error
		created, txErr = createAlertIfAbsent(tx, alert)
		return txErr
	})
	return created, err
}

func (r *TrackingRepository) FindUnresolvedAlert(ctx context.Context, vehicleID int64, alertType string) (*Alert, error) {
	var alert Alert
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ? AND type = ? AND resolved = ?", vehicleID, alertType, false).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

type AlertFilter struct {
	Type      *string
	Read      *bool
	Resolved  *bool
	Priority  *string
	VehicleID *int64
}

func (r *TrackingRepository) FindAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]Alert, error) {
	query := r.db.WithContext(ctx).Model(&Alert{})

	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Read != nil {
		query = query.Where("read = ?", *filter.Read)
	}
	if filter.Resolved != nil {
		query = query.Where("resolved = ?", *filter.Resolved)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}
	if filter.VehicleID != nil {
		query = query.Where("vehicle_id = ?", *filter.VehicleID)
	}

	var alerts []Alert
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&alerts).Error
	return alerts, err
}

func (r *TrackingRepository) GetAlert(ctx context.Context, id int64) (*Alert, error) {
	var alert Alert
	err := r.db.WithContext(ctx).First(&alert, id).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

type AlertCounters struct {
	Total      int64            `json:"total"`
	Unread     int64            `json:"unread"`
	ByPriority map[string]int64 `json:"by_priority"`
	ByType     map[string]int64 `json:"by_type"`
}

// CountUnresolvedAlerts aggregates the open alerts for the counters endpoint.
func (r *TrackingRepository) CountUnresolvedAlerts(ctx context.Context) (*AlertCounters, error) {
	counters := &AlertCounters{
		ByPriority: make(map[string]int64),
		ByType:     make(map[string]int64),
	}

	if err := r.db.WithContext(ctx).Model(&Alert{}).
		Where("resolved = ?", false).
		Count(&counters.Total).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&Alert{}).
		Where("resolved = ? AND read = ?", false, false).
		Count(&counters.Unread).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byPriority []bucket
	if err := r.db.WithContext(ctx).Model(&Alert{}).
		Select("priority as key, count(*) as count").
		Where("resolved = ?", false).
		Group("priority").
		Scan(&byPriority).Error; err != nil {
		return nil, err
	}
	for _, b := range byPriority {
		counters.ByPriority[b.Key] = b.Count
	}

	var byType []bucket
	if err := r.db.WithContext(ctx).Model(&Alert{}).
		Select("type as key, count(*) as count").
		Where("resolved = ?", false).
		Group("type").
		Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, b := range byType {
		counters.ByType[b.Key] = b.Count
	}

	return counters, nil
}

func (r *TrackingRepository) MarkAlertRead(ctx context.Context, id int64) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"read": true, "read_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *TrackingRepository) ResolveAlert(ctx context.Context, id int64, resolvedBy string, notes *string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"resolved":         true,
			"resolved_at":      now,
			"resolved_by":      resolvedBy,
			"resolution_notes": notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *TrackingRepository) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Alert{}).
		Where("read = ?", false).
		Updates(map[string]interface{}{"read": true, "read_at": now})
	return result.RowsAffected, result.Error
}
