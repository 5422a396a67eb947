package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      started_at,
                      voltage_modules,
                      voltage_cells,
                      temp_modules,
                      temp_cells,
                      ring_capacity)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?, ?, ?)`

	completeSessionSQL = `
UPDATE sessions
SET
    stopped_at = CURRENT_TIMESTAMP,
    voltage_samples = ?,
    temp_samples = ?,
    destination = ?,
    status = 'complete'
WHERE
    id = ?`

	discardSessionSQL = `
UPDATE sessions
SET
    stopped_at = CURRENT_TIMESTAMP,
    status = 'discarded'
WHERE
    id = ?`

	selectSessionSQL = `
SELECT
    id,
    started_at,
    stopped_at,
    voltage_modules,
    voltage_cells,
    temp_modules,
    temp_cells,
    ring_capacity,
    voltage_samples,
    temp_samples,
    destination,
    status
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    started_at,
    stopped_at,
    voltage_modules,
    voltage_cells,
    temp_modules,
    temp_cells,
    ring_capacity,
    voltage_samples,
    temp_samples,
    destination,
    status
FROM sessions
ORDER BY started_at, id`
)

//go:embed schema.sql
var initSchemaSQL string
