package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fitzbot/fitzbot/internal/models"
	"github.com/google/uuid"
)

// timestampLayout sorts lexically; fixed-width nanoseconds keep entries
// recorded within one second in order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const eventColumns = `id, timestamp, type, entity_type, entity_id, payload_json, metadata_json`

const defaultQueryLimit = 100

// Event repository errors.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidEvent  = errors.New("invalid event")
)

// EventRepository reads and appends journal entries.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventQuery defines filters for querying entries.
type EventQuery struct {
	Type       *models.EventType  // Filter by entry type
	EntityType *models.EntityType // Filter by entity type
	EntityID   *string            // Filter by entity ID (event name, action ID)
	Since      *time.Time         // Entries at or after this time (inclusive)
	Until      *time.Time         // Entries before this time (exclusive)
	Cursor     string             // Pagination cursor (entry ID)
	Limit      int                // Max results to return
}

// EventPage represents a page of query results.
type EventPage struct {
	Events     []*models.Event
	NextCursor string
}

// Create appends an entry, assigning an ID and timestamp when missing.
// Returns ErrInvalidEvent if required fields are missing.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}

	var payloadJSON *string
	if len(event.Payload) > 0 {
		s := string(event.Payload)
		payloadJSON = &s
	}

	var metadataJSON *string
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		s := string(data)
		metadataJSON = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.Format(timestampLayout),
		string(event.Type),
		string(event.EntityType),
		event.EntityID,
		payloadJSON,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// where renders the query filters as a SQL condition. Cursor and Limit are
// handled by Query.
func (q EventQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if q.Type != nil {
		add("type = ?", string(*q.Type))
	}
	if q.EntityType != nil {
		add("entity_type = ?", string(*q.EntityType))
	}
	if q.EntityID != nil {
		add("entity_id = ?", *q.EntityID)
	}
	if q.Since != nil {
		add("timestamp >= ?", q.Since.UTC().Format(timestampLayout))
	}
	if q.Until != nil {
		add("timestamp < ?", q.Until.UTC().Format(timestampLayout))
	}
	if len(conds) == 0 {
		return "1=1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Query pages through matching entries oldest first. NextCursor is set when
// more entries follow.
func (r *EventRepository) Query(ctx context.Context, q EventQuery) (*EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	cond, args := q.where()
	if q.Cursor != "" {
		cond += " AND (timestamp, id) > (SELECT timestamp, id FROM events WHERE id = ?)"
		args = append(args, q.Cursor)
	}
	args = append(args, limit+1)

	events, err := r.list(ctx, "SELECT "+eventColumns+" FROM events WHERE "+cond+" ORDER BY timestamp, id LIMIT ?", args...)
	if err != nil {
		return nil, err
	}

	page := &EventPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = events[limit-1].ID
	}
	return page, nil
}

// Recent returns the newest entries, newest first.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.list(ctx, "SELECT "+eventColumns+" FROM events ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
}

// Count returns how many entries match the filters of q.
func (r *EventRepository) Count(ctx context.Context, q EventQuery) (int, error) {
	cond, args := q.where()
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE "+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than before and reports how many went.
func (r *EventRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", before.UTC().Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		event, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scan reads one row in eventColumns order.
func (r *EventRepository) scan(row rowScanner) (*models.Event, error) {
	var (
		event             models.Event
		ts, kind, entity  string
		payload, metadata sql.NullString
	)
	if err := row.Scan(&event.ID, &ts, &kind, &entity, &event.EntityID, &payload, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan journal entry: %w", err)
	}

	event.Type = models.EventType(kind)
	event.EntityType = models.EntityType(entity)
	if t, err := time.Parse(timestampLayout, ts); err == nil {
		event.Timestamp = t
	}
	if payload.Valid {
		event.Payload = json.RawMessage(payload.String)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			r.db.logger.Warn().Err(err).Str("entry_id", event.ID).Msg("unreadable journal metadata")
		}
	}
	return &event, nil
}
