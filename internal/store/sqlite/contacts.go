package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/store"
)

const contactColumns = `id, transaction_id, contacted_at, channel, note`

func scanContact(scanner interface{ Scan(dest ...any) error }) (*domain.OverdueContact, error) {
	var (
		c           domain.OverdueContact
		contactedAt string
		channel     sql.NullString
		note        sql.NullString
	)

	if err := scanner.Scan(&c.ID, &c.TransactionID, &contactedAt, &channel, &note); err != nil {
		return nil, err
	}

	var err error
	c.ContactedAt, err = parseTime(contactedAt)
	if err != nil {
		return nil, err
	}
	c.Channel = channel.String
	c.Note = note.String
	return &c, nil
}

// UpsertContact records that a borrower was contacted about a transaction.
// A later contact replaces the earlier one; the row keeps its id.
func (s *Store) UpsertContact(ctx context.Context, c *domain.OverdueContact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO overdue_contacts (id, transaction_id, contacted_at, channel, note)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			contacted_at = excluded.contacted_at,
			channel      = excluded.channel,
			note         = excluded.note
		RETURNING id`,
		c.ID,
		c.TransactionID,
		formatTime(c.ContactedAt),
		nullString(c.Channel),
		nullString(c.Note),
	)
	if err := row.Scan(&c.ID); err != nil {
		return err
	}

	s.logger.Debug("overdue contact recorded", "transaction_id", c.TransactionID, "channel", c.Channel)
	return nil
}

// GetContact returns the contact for a transaction.
// Returns store.ErrNotFound if none was recorded.
func (s *Store) GetContact(ctx context.Context, transactionID string) (*domain.OverdueContact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM overdue_contacts WHERE transaction_id = ?`, transactionID)

	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteContact clears the contact for a transaction.
// Returns store.ErrNotFound if none was recorded.
func (s *Store) DeleteContact(ctx context.Context, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM overdue_contacts WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListContactsByTransactionIDs returns the recorded contacts keyed by transaction id.
// Transactions with no contact are absent from the map.
func (s *Store) ListContactsByTransactionIDs(ctx context.Context, ids []string) (map[string]*domain.OverdueContact, error) {
	out := make(map[string]*domain.OverdueContact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM overdue_contacts WHERE transaction_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out[c.TransactionID] = c
	}
	return out, rows.Err()
}
