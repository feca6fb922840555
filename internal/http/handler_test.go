package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vehicle-tracker/internal/config"
	"vehicle-tracker/internal/repository"
	"vehicle-tracker/internal/service"
)

const testSecret = "test-secret"

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&repository.Zone{}, &repository.Camera{}, &repository.Vehicle{},
		&repository.Movement{}, &repository.Alert{},
	))

	zone := repository.Zone{Name: "Main Gate", Code: "MAIN_GATE", Active: true}
	require.NoError(t, db.Create(&zone).Error)
	camera := repository.Camera{Name: "Gate entry", Code: "ENTRY1", Role: "entry", ZoneID: &zone.ID, Active: true}
	require.NoError(t, db.Create(&camera).Error)

	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Auth.JWTSecret = testSecret
	cfg.Alerts.InactivityDays = 20
	cfg.Alerts.DeliveryMinutes = 60

	log := zerolog.Nop()
	repo := repository.NewTrackingRepository(db)
	trackingService := service.NewTrackingService(repo, log)
	alertService := service.NewAlertService(repo, log)
	sweepService := service.NewSweepService(repo, trackingService, cfg.Alerts.InactivityDays, cfg.Alerts.DeliveryMinutes, log)

	router := NewRouter(cfg)
	handler := NewHandler(trackingService, alertService, sweepService, log)
	handler.Register(router, JWTAuth(cfg.Auth.JWTSecret, log))

	return router
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func postJSON(router *gin.Engine, path, token string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateDetection(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/lpr/detections", "", map[string]interface{}{
		"plate":       "12 34-abc",
		"camera_code": "ENTRY1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var response struct {
		Status string `json:"status"`
		Result struct {
			Plate        string `json:"plate"`
			Type         string `json:"type"`
			IsNewVehicle bool   `json:"is_new_vehicle"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "1234ABC", response.Result.Plate)
	assert.Equal(t, "entry", response.Result.Type)
	assert.True(t, response.Result.IsNewVehicle)
}

func TestCreateDetectionRejectsUnknownCamera(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/lpr/detections", "", map[string]interface{}{
		"plate":       "1234ABC",
		"camera_code": "NOPE",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/sweeps/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(router, "/api/v1/sweeps/run", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(router, "/api/v1/sweeps/run", signToken(t, "operator-1"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManualMovementAttributesActor(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/lpr/detections", "", map[string]interface{}{
		"plate":       "1234ABC",
		"camera_code": "ENTRY1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	token := signToken(t, "operator-1")
	w = postJSON(router, "/api/v1/movements/manual", token, map[string]interface{}{
		"vehicle_id": 1,
		"type":       "exit",
		"notes":      "released to owner",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/1/movements", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data []struct {
			Type       string  `json:"type"`
			Manual     bool    `json:"manual"`
			RecordedBy *string `json:"recorded_by"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Data, 2)
	assert.Equal(t, "exit", response.Data[0].Type)
	assert.True(t, response.Data[0].Manual)
	require.NotNil(t, response.Data[0].RecordedBy)
	assert.Equal(t, "operator-1", *response.Data[0].RecordedBy)
}

func TestGetAlert(t *testing.T) {
	router := setupTestServer(t)

	// First sighting of an unknown plate raises the unregistered alert.
	w := postJSON(router, "/api/v1/lpr/detections", "", map[string]interface{}{
		"plate":       "1234ABC",
		"camera_code": "ENTRY1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	token := signToken(t, "operator-1")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data struct {
			Type  string  `json:"type"`
			Plate *string `json:"plate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "unregistered_plate", response.Data.Type)
	require.NotNil(t, response.Data.Plate)
	assert.Equal(t, "1234ABC", *response.Data.Plate)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts/999", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualMovementNotFound(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/movements/manual", signToken(t, "operator-1"), map[string]interface{}{
		"vehicle_id": 42,
		"type":       "entry",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	router := setupTestServer(t)

	w := postJSON(router, "/api/v1/lpr/detections", "", map[string]interface{}{
		"plate":       "1234ABC",
		"camera_code": "ENTRY1",
	})
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lpr/detections", bytes.NewReader([]byte(`{"plate":"1234ABC","camera_code":"ENTRY1"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "supplied-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "supplied-id", rec.Header().Get("X-Request-ID"))
}
