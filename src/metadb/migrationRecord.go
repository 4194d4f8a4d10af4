/*
Copyright (c) Eden Dev, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package metadb

import (
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// MigrationRow is the durable shape of one migration. The tagged-union
// columns hold the JSON produced by the domain packages; metadb stays
// ignorant of their structure.
type MigrationRow struct {
	Name                string
	UUID                string
	Status              string
	StrategyJSON        string
	DataMovementJSON    string
	FailureHandlingJSON string
	BindingsJSON        string
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (m *MetaDB) InsertMigration(row *MigrationRow) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(name, uuid, status, strategy_json, data_movement_json, failure_handling_json, bindings_json, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, MIGRATIONS_TABLE_NAME)
	_, err := m.db.Exec(query, row.Name, row.UUID, row.Status, row.StrategyJSON, row.DataMovementJSON,
		row.FailureHandlingJSON, row.BindingsJSON, row.LastError, row.CreatedAt.Unix(), row.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	log.Infof("inserted migration %q (%s) into meta db", row.Name, row.UUID)
	return nil
}

func (m *MetaDB) UpdateMigration(row *MigrationRow) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, strategy_json = ?, data_movement_json = ?,
		failure_handling_json = ?, bindings_json = ?, last_error = ?, updated_at = ? WHERE name = ?`, MIGRATIONS_TABLE_NAME)
	result, err := m.db.Exec(query, row.Status, row.StrategyJSON, row.DataMovementJSON,
		row.FailureHandlingJSON, row.BindingsJSON, row.LastError, row.UpdatedAt.Unix(), row.Name)
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	err = checkRowsAffected(result, 1)
	if err != nil {
		return fmt.Errorf("update migration %q: %w", row.Name, err)
	}
	return nil
}

func (m *MetaDB) GetMigration(name string) (*MigrationRow, error) {
	query := fmt.Sprintf(`SELECT name, uuid, status, strategy_json, data_movement_json,
		failure_handling_json, bindings_json, last_error, created_at, updated_at
		FROM %s WHERE name = ?`, MIGRATIONS_TABLE_NAME)
	row := m.db.QueryRow(query, name)
	rec, err := scanMigrationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	return rec, nil
}

func (m *MetaDB) ListMigrations() ([]*MigrationRow, error) {
	query := fmt.Sprintf(`SELECT name, uuid, status, strategy_json, data_movement_json,
		failure_handling_json, bindings_json, last_error, created_at, updated_at
		FROM %s ORDER BY created_at`, MIGRATIONS_TABLE_NAME)
	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	defer func() {
		err := rows.Close()
		if err != nil {
			log.Errorf("failed to close rows while listing migrations: %v", err)
		}
	}()
	var records []*MigrationRow
	for rows.Next() {
		rec, err := scanMigrationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rows while listing migrations: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *MetaDB) DeleteMigration(name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, MIGRATIONS_TABLE_NAME)
	_, err := m.db.Exec(query, name)
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMigrationRow(s rowScanner) (*MigrationRow, error) {
	var rec MigrationRow
	var createdAt, updatedAt int64
	err := s.Scan(&rec.Name, &rec.UUID, &rec.Status, &rec.StrategyJSON, &rec.DataMovementJSON,
		&rec.FailureHandlingJSON, &rec.BindingsJSON, &rec.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}
