package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS zones (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		code            TEXT NOT NULL,
		kind            TEXT,
		active          BOOLEAN NOT NULL DEFAULT true,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_zones_name ON zones(name);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_zones_code ON zones(code);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		code            TEXT NOT NULL,
		role            TEXT NOT NULL DEFAULT 'none',
		zone_id         BIGINT REFERENCES zones(id),
		active          BOOLEAN NOT NULL DEFAULT true,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_code ON cameras(code);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id               BIGSERIAL PRIMARY KEY,
		plate            TEXT NOT NULL,
		present          BOOLEAN NOT NULL DEFAULT false,
		current_zone_id  BIGINT REFERENCES zones(id),
		first_entry_at   TIMESTAMPTZ,
		last_entry_at    TIMESTAMPTZ,
		last_exit_at     TIMESTAMPTZ,
		last_movement_at TIMESTAMPTZ,
		active           BOOLEAN NOT NULL DEFAULT true,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_plate ON vehicles(plate);`,
	`CREATE TABLE IF NOT EXISTS movements (
		id              BIGSERIAL PRIMARY KEY,
		vehicle_id      BIGINT NOT NULL REFERENCES vehicles(id),
		type            TEXT NOT NULL,
		origin_zone_id  BIGINT REFERENCES zones(id),
		dest_zone_id    BIGINT REFERENCES zones(id),
		camera_id       BIGINT REFERENCES cameras(id),
		detected_plate  TEXT,
		raw_plate       TEXT,
		confidence      NUMERIC(5,2),
		image_ref       TEXT,
		occurred_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		manual          BOOLEAN NOT NULL DEFAULT false,
		recorded_by     TEXT,
		notes           TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_movements_vehicle_id ON movements(vehicle_id);`,
	`CREATE INDEX IF NOT EXISTS idx_movements_occurred_at ON movements(occurred_at);`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id               BIGSERIAL PRIMARY KEY,
		type             TEXT NOT NULL,
		vehicle_id       BIGINT REFERENCES vehicles(id),
		title            TEXT NOT NULL,
		message          TEXT,
		priority         TEXT NOT NULL DEFAULT 'medium',
		read             BOOLEAN NOT NULL DEFAULT false,
		resolved         BOOLEAN NOT NULL DEFAULT false,
		read_at          TIMESTAMPTZ,
		resolved_at      TIMESTAMPTZ,
		resolved_by      TEXT,
		resolution_notes TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_vehicle_id ON alerts(vehicle_id);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_open_per_vehicle_type
		ON alerts(vehicle_id, type) WHERE NOT resolved AND vehicle_id IS NOT NULL;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM zones WHERE code = 'MAIN_GATE') THEN
			INSERT INTO zones (name, code, kind) VALUES ('Main Gate', 'MAIN_GATE', 'entry');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM zones WHERE code = 'YARD_1') THEN
			INSERT INTO zones (name, code, kind) VALUES ('Yard 1', 'YARD_1', 'yard');
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
