package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vehicle-tracker/internal/domain/tracking"
	"vehicle-tracker/internal/repository"
)

type testFixture struct {
	db       *gorm.DB
	repo     *repository.TrackingRepository
	tracking *TrackingService
	zone1    int64
	zone2    int64
}

func setupTest(t *testing.T) *testFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database shared across
	// goroutines and serializes transactions.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&repository.Zone{}, &repository.Camera{}, &repository.Vehicle{},
		&repository.Movement{}, &repository.Alert{},
	))

	zone1 := repository.Zone{Name: "Main Gate", Code: "MAIN_GATE", Active: true}
	zone2 := repository.Zone{Name: "Yard 1", Code: "YARD_1", Active: true}
	require.NoError(t, db.Create(&zone1).Error)
	require.NoError(t, db.Create(&zone2).Error)

	cameras := []repository.Camera{
		{Name: "Gate entry", Code: "ENTRY1", Role: "entry", ZoneID: &zone1.ID, Active: true},
		{Name: "Gate exit", Code: "EXIT1", Role: "exit", ZoneID: &zone1.ID, Active: true},
		{Name: "Gate bidirectional", Code: "BOTH1", Role: "both", ZoneID: &zone1.ID, Active: true},
		{Name: "Yard watcher", Code: "VIG2", Role: "none", ZoneID: &zone2.ID, Active: true},
		{Name: "Roaming unit", Code: "NOZONE", Role: "none", Active: true},
		{Name: "Broken camera", Code: "OFF1", Role: "entry", ZoneID: &zone1.ID, Active: false},
	}
	for i := range cameras {
		require.NoError(t, db.Create(&cameras[i]).Error)
	}

	repo := repository.NewTrackingRepository(db)
	return &testFixture{
		db:       db,
		repo:     repo,
		tracking: NewTrackingService(repo, zerolog.Nop()),
		zone1:    zone1.ID,
		zone2:    zone2.ID,
	}
}

func (f *testFixture) detect(t *testing.T, plate, camera string) *tracking.ProcessResult {
	t.Helper()
	result, err := f.tracking.ProcessDetection(context.Background(), tracking.DetectionPayload{
		Plate:      plate,
		CameraCode: camera,
	})
	require.NoError(t, err)
	return result
}

func TestProcessDetectionNewVehicleEntry(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	result := f.detect(t, "12 34-abc", "ENTRY1")

	assert.Equal(t, tracking.MovementEntry, result.Type)
	assert.Equal(t, "1234ABC", result.Plate)
	assert.True(t, result.IsNewVehicle)
	require.NotNil(t, result.DestZoneID)
	assert.Equal(t, f.zone1, *result.DestZoneID)

	vehicle, err := f.repo.GetVehicle(ctx, result.VehicleID)
	require.NoError(t, err)
	assert.True(t, vehicle.Present)
	require.NotNil(t, vehicle.CurrentZoneID)
	assert.Equal(t, f.zone1, *vehicle.CurrentZoneID)
	assert.NotNil(t, vehicle.FirstEntryAt)
	assert.NotNil(t, vehicle.LastEntryAt)
	assert.NotNil(t, vehicle.LastMovementAt)

	movements, err := f.repo.FindMovementsByVehicle(ctx, vehicle.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "entry", movements[0].Type)
	require.NotNil(t, movements[0].DetectedPlate)
	assert.Equal(t, "1234ABC", *movements[0].DetectedPlate)
	require.NotNil(t, movements[0].RawPlate)
	assert.Equal(t, "12 34-abc", *movements[0].RawPlate)

	alert, err := f.repo.FindUnresolvedAlert(ctx, vehicle.ID, "unregistered_plate")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "medium", alert.Priority)

	// A second sighting is no longer new and raises nothing.
	again := f.detect(t, "1234ABC", "ENTRY1")
	assert.False(t, again.IsNewVehicle)

	alerts, err := f.repo.FindAlerts(ctx, repository.AlertFilter{VehicleID: &vehicle.ID}, 50, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestProcessDetectionExitAfterEntry(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	entered := f.detect(t, "1234ABC", "ENTRY1")
	result := f.detect(t, "1234ABC", "EXIT1")

	assert.Equal(t, tracking.MovementExit, result.Type)
	assert.Equal(t, entered.VehicleID, result.VehicleID)

	vehicle, err := f.repo.GetVehicle(ctx, result.VehicleID)
	require.NoError(t, err)
	assert.False(t, vehicle.Present)
	assert.Nil(t, vehicle.CurrentZoneID)
	assert.NotNil(t, vehicle.LastExitAt)

	latest, err := f.repo.LatestMovement(ctx, vehicle.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "exit", latest.Type)
	require.NotNil(t, latest.OriginZoneID)
	assert.Equal(t, f.zone1, *latest.OriginZoneID)
	require.NotNil(t, latest.DestZoneID)
	assert.Equal(t, f.zone1, *latest.DestZoneID)
}

func TestProcessDetectionZoneChangeViaVigilanceCamera(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	f.detect(t, "1234ABC", "ENTRY1")
	result := f.detect(t, "1234ABC", "VIG2")

	assert.Equal(t, tracking.MovementZoneChange, result.Type)

	vehicle, err := f.repo.GetVehicle(ctx, result.VehicleID)
	require.NoError(t, err)
	assert.True(t, vehicle.Present)
	require.NotNil(t, vehicle.CurrentZoneID)
	assert.Equal(t, f.zone2, *vehicle.CurrentZoneID)
}

func TestProcessDetectionFirstEntryPreserved(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	first := f.detect(t, "1234ABC", "ENTRY1")
	vehicle, err := f.repo.GetVehicle(ctx, first.VehicleID)
	require.NoError(t, err)
	firstEntry := *vehicle.FirstEntryAt

	time.Sleep(10 * time.Millisecond)
	f.detect(t, "1234ABC", "EXIT1")
	f.detect(t, "1234ABC", "ENTRY1")

	vehicle, err = f.repo.GetVehicle(ctx, first.VehicleID)
	require.NoError(t, err)
	assert.Equal(t, firstEntry.Unix(), vehicle.FirstEntryAt.Unix())
	assert.True(t, vehicle.LastEntryAt.After(firstEntry))
}

func TestProcessDetectionValidation(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: "", CameraCode: "ENTRY1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: " - ", CameraCode: "ENTRY1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: "1234ABC", CameraCode: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: "1234ABC", CameraCode: "NOPE"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := 120.0
	_, err = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: "1234ABC", CameraCode: "ENTRY1", Confidence: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Inactive cameras are rejected before classification; no state mutated.
	_, err = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{Plate: "1234ABC", CameraCode: "OFF1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	var vehicles int64
	require.NoError(t, f.db.Model(&repository.Vehicle{}).Count(&vehicles).Error)
	assert.Equal(t, int64(0), vehicles)
}

func TestProcessDetectionConcurrentNewPlate(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*tracking.ProcessResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.tracking.ProcessDetection(ctx, tracking.DetectionPayload{
				Plate:      "7777GGG",
				CameraCode: "ENTRY1",
			})
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].IsNewVehicle {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount)

	var vehicles int64
	require.NoError(t, f.db.Model(&repository.Vehicle{}).Where("plate = ?", "7777GGG").Count(&vehicles).Error)
	assert.Equal(t, int64(1), vehicles)

	var alerts int64
	require.NoError(t, f.db.Model(&repository.Alert{}).Where("type = ?", "unregistered_plate").Count(&alerts).Error)
	assert.Equal(t, int64(1), alerts)

	var movements int64
	require.NoError(t, f.db.Model(&repository.Movement{}).Count(&movements).Error)
	assert.Equal(t, int64(workers), movements)
}

func TestRecordManualMovement(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	entered := f.detect(t, "1234ABC", "ENTRY1")

	movementID, err := f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID:  entered.VehicleID,
		Type:       "zone_change",
		DestZoneID: &f.zone2,
		Notes:      "moved to the yard by tow truck",
	}, "operator-1")
	require.NoError(t, err)

	vehicle, err := f.repo.GetVehicle(ctx, entered.VehicleID)
	require.NoError(t, err)
	require.NotNil(t, vehicle.CurrentZoneID)
	assert.Equal(t, f.zone2, *vehicle.CurrentZoneID)

	latest, err := f.repo.LatestMovement(ctx, entered.VehicleID)
	require.NoError(t, err)
	assert.Equal(t, movementID, latest.ID)
	assert.True(t, latest.Manual)
	require.NotNil(t, latest.RecordedBy)
	assert.Equal(t, "operator-1", *latest.RecordedBy)
	require.NotNil(t, latest.Notes)

	// Manual exit clears presence and zone regardless of any destination.
	_, err = f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID: entered.VehicleID,
		Type:      "exit",
	}, "operator-1")
	require.NoError(t, err)

	vehicle, err = f.repo.GetVehicle(ctx, entered.VehicleID)
	require.NoError(t, err)
	assert.False(t, vehicle.Present)
	assert.Nil(t, vehicle.CurrentZoneID)
}

func TestRecordManualMovementValidation(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	entered := f.detect(t, "1234ABC", "ENTRY1")

	_, err := f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID: entered.VehicleID,
		Type:      "detection",
	}, "operator-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID: entered.VehicleID,
		Type:      "zone_change",
	}, "operator-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	missing := int64(999)
	_, err = f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID:  entered.VehicleID,
		Type:       "zone_change",
		DestZoneID: &missing,
	}, "operator-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.tracking.RecordManualMovement(ctx, tracking.ManualMovement{
		VehicleID: 999,
		Type:      "entry",
	}, "operator-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
