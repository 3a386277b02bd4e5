package store

import (
	"database/sql"
	"time"
)

const queueColumns = `id, conversation_id, body, message_type, media_url, media_local_path,
	latitude, longitude, location_name, status, retry_count, max_retries,
	last_retry_at, created_at, updated_at`

// Enqueue persists a new queued message. Status and timestamps are
// taken from the struct so tests can backdate rows.
func (db *DB) Enqueue(m *QueuedMessage) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var lat, lng any
	name := ""
	if m.Location != nil {
		lat, lng, name = m.Location.Latitude, m.Location.Longitude, m.Location.Name
	}
	_, err := db.Exec(`
		INSERT INTO queued_messages (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Text, m.Type, m.MediaURL, m.MediaLocalPath,
		lat, lng, name, m.Status, m.RetryCount, m.MaxRetries,
		m.LastRetryAt, m.CreatedAt, m.UpdatedAt)
	return err
}

// Get returns a single queued message, or nil if not present.
func (db *DB) Get(id string) (*QueuedMessage, error) {
	row := db.QueryRow(`SELECT `+queueColumns+` FROM queued_messages WHERE id = ?`, id)
	m, err := scanQueued(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListByStatus returns queued messages in the given status, oldest first.
func (db *DB) ListByStatus(status Status) ([]QueuedMessage, error) {
	rows, err := db.Query(`
		SELECT `+queueColumns+` FROM queued_messages
		WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []QueuedMessage
	for rows.Next() {
		m, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkSending transitions a row to 'sending'.
func (db *DB) MarkSending(id string) error {
	return db.setStatus(id, StatusSending)
}

// MarkSent transitions a row to 'sent'. The row is deleted separately
// after a grace period so observers can see the terminal state.
func (db *DB) MarkSent(id string) error {
	return db.setStatus(id, StatusSent)
}

// MarkFailed transitions a row to 'failed', increments its retry count
// and stamps last_retry_at with the current time.
func (db *DB) MarkFailed(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE queued_messages
		SET status = ?, retry_count = retry_count + 1, last_retry_at = ?, updated_at = ?
		WHERE id = ?`, StatusFailed, now, now, id)
	return err
}

// MarkCanceled transitions a row to 'canceled'. Canceled rows are never
// picked up by a sync pass again.
func (db *DB) MarkCanceled(id string) error {
	return db.setStatus(id, StatusCanceled)
}

// ResetForRetry puts a failed row back to 'pending' with a zeroed retry
// count. Returns false if the row is not currently failed.
func (db *DB) ResetForRetry(id string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE queued_messages
		SET status = ?, retry_count = 0, last_retry_at = 0, updated_at = ?
		WHERE id = ? AND status = ?`, StatusPending, now, id, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetAllFailed resets every failed row to 'pending' with a zeroed
// retry count and returns how many rows were reset.
func (db *DB) ResetAllFailed() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE queued_messages
		SET status = ?, retry_count = 0, last_retry_at = 0, updated_at = ?
		WHERE status = ?`, StatusPending, now, StatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetMediaURL records the uploaded media URL and clears the local path.
func (db *DB) SetMediaURL(id, url string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE queued_messages
		SET media_url = ?, media_local_path = '', updated_at = ?
		WHERE id = ?`, url, now, id)
	return err
}

// SetLastRetryAt overwrites the retry timestamp. Used by tests to place
// a row inside or outside its backoff window.
func (db *DB) SetLastRetryAt(id string, at int64) error {
	_, err := db.Exec(`UPDATE queued_messages SET last_retry_at = ? WHERE id = ?`, at, id)
	return err
}

// Delete removes a row from the queue.
func (db *DB) Delete(id string) error {
	_, err := db.Exec(`DELETE FROM queued_messages WHERE id = ?`, id)
	return err
}

func (db *DB) setStatus(id string, s Status) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE queued_messages SET status = ?, updated_at = ? WHERE id = ?`, s, now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueued(r rowScanner) (*QueuedMessage, error) {
	var m QueuedMessage
	var lat, lng sql.NullFloat64
	var name string
	err := r.Scan(&m.ID, &m.ConversationID, &m.Text, &m.Type, &m.MediaURL, &m.MediaLocalPath,
		&lat, &lng, &name, &m.Status, &m.RetryCount, &m.MaxRetries,
		&m.LastRetryAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		m.Location = &Location{Latitude: lat.Float64, Longitude: lng.Float64, Name: name}
	}
	return &m, nil
}
