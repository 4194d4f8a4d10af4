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

// MovementCheckpoint is the resumable cursor of one movement job. It
// is written at batch boundaries so a restarted job continues instead
// of starting over.
type MovementCheckpoint struct {
	MigrationUUID string
	Cursor        string
	RecordsMoved  int64
	Status        string
	UpdatedAt     time.Time
}

func (m *MetaDB) PutMovementCheckpoint(cp *MovementCheckpoint) error {
	query := fmt.Sprintf(`INSERT INTO %s (migration_uuid, cursor, records_moved, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(migration_uuid) DO UPDATE SET cursor = excluded.cursor,
			records_moved = excluded.records_moved, status = excluded.status,
			updated_at = excluded.updated_at`, MOVEMENT_CHECKPOINTS_TABLE_NAME)
	_, err := m.db.Exec(query, cp.MigrationUUID, cp.Cursor, cp.RecordsMoved, cp.Status, cp.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	return nil
}

func (m *MetaDB) GetMovementCheckpoint(migrationUUID string) (*MovementCheckpoint, error) {
	query := fmt.Sprintf(`SELECT migration_uuid, cursor, records_moved, status, updated_at
		FROM %s WHERE migration_uuid = ?`, MOVEMENT_CHECKPOINTS_TABLE_NAME)
	row := m.db.QueryRow(query, migrationUUID)
	var cp MovementCheckpoint
	var updatedAt int64
	err := row.Scan(&cp.MigrationUUID, &cp.Cursor, &cp.RecordsMoved, &cp.Status, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0)
	return &cp, nil
}

func (m *MetaDB) DeleteMovementCheckpoint(migrationUUID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE migration_uuid = ?`, MOVEMENT_CHECKPOINTS_TABLE_NAME)
	_, err := m.db.Exec(query, migrationUUID)
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	log.Infof("deleted movement checkpoint for migration %s", migrationUUID)
	return nil
}
