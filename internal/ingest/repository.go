package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "deskrelay/pkg/errors"
)

// TicketRepository reads tickets owned by the main helpdesk
// application. This pipeline never writes to them.
type TicketRepository interface {
	GetTicket(ctx context.Context, id int64) (*Ticket, error)
}

// MessageRepository persists inbound messages. InsertMessage returns
// the row id and whether a new row was created; a duplicate delivery
// resolves to the existing row with inserted=false. FindMessage looks
// up the row for a (ticket, Message-ID) pair.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *Message) (id int64, inserted bool, err error)
	FindMessage(ctx context.Context, ticketID int64, emailMessageID string) (int64, error)
}

type PostgresTicketRepository struct {
	db *sql.DB
}

func NewTicketRepository(db *sql.DB) TicketRepository {
	return &PostgresTicketRepository{db: db}
}

func (r *PostgresTicketRepository) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	query := `
		SELECT t.id, t.subject,
		       c.id, c.email,
		       au.id, au.email,
		       cb.id, cb.email,
		       s.id, s.name, s.default_sender_email
		FROM tickets t
		JOIN customers c ON c.id = t.customer_id
		LEFT JOIN users au ON au.id = t.assigned_user_id
		LEFT JOIN users cb ON cb.id = t.created_by_user_id
		JOIN stores s ON s.id = t.store_id
		WHERE t.id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	var (
		ticket        Ticket
		assignedID    sql.NullInt64
		assignedEmail sql.NullString
		creatorID     sql.NullInt64
		creatorEmail  sql.NullString
	)

	err := row.Scan(
		&ticket.ID, &ticket.Subject,
		&ticket.Customer.ID, &ticket.Customer.Email,
		&assignedID, &assignedEmail,
		&creatorID, &creatorEmail,
		&ticket.Store.ID, &ticket.Store.Name, &ticket.Store.DefaultSenderEmail,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}

	if assignedID.Valid {
		ticket.AssignedUser = &User{ID: assignedID.Int64, Email: assignedEmail.String}
	}
	if creatorID.Valid {
		ticket.CreatedBy = &User{ID: creatorID.Int64, Email: creatorEmail.String}
	}

	return &ticket, nil
}

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) InsertMessage(ctx context.Context, msg *Message) (int64, bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if msg.EmailMessageID == "" {
		// Without a Message-ID there is nothing to deduplicate on.
		return r.insertPlain(ctx, msg)
	}

	query := `
		INSERT INTO messages (
			ticket_id, content, sender_id, is_from_customer,
			email_from, email_to, email_subject,
			email_message_id, email_in_reply_to, email_references,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ticket_id, email_message_id) WHERE email_message_id <> ''
		DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		msg.TicketID, msg.Content, msg.SenderID, msg.IsFromCustomer,
		msg.EmailFrom, msg.EmailTo, msg.EmailSubject,
		msg.EmailMessageID, msg.EmailInReplyTo, msg.EmailReferences,
		msg.CreatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the same delivery already produced a row.
		existing, lookupErr := r.FindMessage(ctx, msg.TicketID, msg.EmailMessageID)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert message: %w", err)
	}

	return id, true, nil
}

func (r *PostgresMessageRepository) insertPlain(ctx context.Context, msg *Message) (int64, bool, error) {
	query := `
		INSERT INTO messages (
			ticket_id, content, sender_id, is_from_customer,
			email_from, email_to, email_subject,
			email_message_id, email_in_reply_to, email_references,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		msg.TicketID, msg.Content, msg.SenderID, msg.IsFromCustomer,
		msg.EmailFrom, msg.EmailTo, msg.EmailSubject,
		msg.EmailMessageID, msg.EmailInReplyTo, msg.EmailReferences,
		msg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert message: %w", err)
	}

	return id, true, nil
}

func (r *PostgresMessageRepository) FindMessage(ctx context.Context, ticketID int64, emailMessageID string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE ticket_id = $1 AND email_message_id = $2`,
		ticketID, emailMessageID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up existing message: %w", err)
	}
	return id, nil
}
