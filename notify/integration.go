package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/etlpulse/db"
	"github.com/teranos/etlpulse/errors"
)

// TypeEmail is the only integration type with a delivery channel
const TypeEmail = "Email"

// Integration is a notification destination
type Integration struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Recipient   string    `json:"recipient"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// IntegrationFilter selects integrations
type IntegrationFilter struct {
	IDs  []int64
	Name string
	Type string
}

func (f IntegrationFilter) where() *db.Where {
	w := db.NewWhere()
	if f.IDs != nil {
		ids := make([]interface{}, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		w.In("id", ids...)
	}
	if f.Name != "" {
		w.Eq("name", f.Name)
	}
	if f.Type != "" {
		w.Eq("type", f.Type)
	}
	return w
}

// IntegrationStore persists integrations
type IntegrationStore struct {
	db *sql.DB
}

// NewIntegrationStore creates an integration store
func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

// Create inserts an integration
func (s *IntegrationStore) Create(ctx context.Context, in Integration) (*Integration, error) {
	if in.Name == "" || in.Type == "" || in.Recipient == "" {
		return nil, errors.NewInvalidRequestError("integration needs a name, a type and a recipient")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (name, type, recipient, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		in.Name, in.Type, in.Recipient, in.DisplayName, in.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create integration")
	}
	if in.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "failed to read integration id")
	}
	return &in, nil
}

// Get retrieves an integration
func (s *IntegrationStore) Get(ctx context.Context, id int64) (*Integration, error) {
	found, err := s.Select(ctx, IntegrationFilter{IDs: []int64{id}})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.NewNotFoundError("integration %d", id)
	}
	return found[0], nil
}

// Select returns integrations matching filter ordered by id
func (s *IntegrationStore) Select(ctx context.Context, filter IntegrationFilter) ([]*Integration, error) {
	clause, args := filter.where().Build()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, recipient, display_name, created_at
		FROM integrations`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select integrations")
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.Name, &in.Type, &in.Recipient, &in.DisplayName, &in.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan integration")
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// Delete removes integrations matching filter
func (s *IntegrationStore) Delete(ctx context.Context, filter IntegrationFilter) (int64, error) {
	clause, args := filter.where().Build()
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations`+clause, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete integrations")
	}
	return res.RowsAffected()
}
