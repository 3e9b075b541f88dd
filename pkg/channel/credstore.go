package channel

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborstay/channelcore/internal/dbx"
)

// CredentialCipher encrypts and decrypts the channel_connections.
// credentials_encrypted column at rest. Credentials never leave the
// process in plaintext outside of a decrypted Connection handed to an
// Adapter for the duration of a single call.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher builds a CredentialCipher from a 32-byte AES-256
// key, typically loaded from the deployment's secret store into
// config at startup (never hardcoded, never logged).
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("channel: building cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("channel: building gcm: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// Seal encrypts a credential payload for storage.
func (c *CredentialCipher) Seal(plaintext json.RawMessage) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("channel: generating nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a stored credential payload.
func (c *CredentialCipher) Open(ciphertext []byte) (json.RawMessage, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("channel: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:n], ciphertext[n:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: decrypting credentials: %w", err)
	}
	return plaintext, nil
}

// Store persists and retrieves channel connections, transparently
// sealing/opening credentials through a CredentialCipher.
type Store struct {
	db     dbx.DBTX
	cipher *CredentialCipher
}

// NewStore builds a Store bound to the caller's search_path.
func NewStore(db dbx.DBTX, cipher *CredentialCipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// Get loads one property's connection to a channel, decrypting its
// credentials.
func (s *Store) Get(ctx context.Context, propertyID uuid.UUID, ch string) (Connection, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, property_id, channel, external_property_id, credentials_encrypted,
		       sync_enabled, last_sync_at, last_error
		FROM channel_connections
		WHERE property_id = $1 AND channel = $2`, propertyID, ch)

	var (
		conn      Connection
		encrypted []byte
	)
	if err := row.Scan(&conn.ID, &conn.PropertyID, &conn.Channel, &conn.ExternalPropertyID,
		&encrypted, &conn.SyncEnabled, &conn.LastSyncAt, &conn.LastError); err != nil {
		if err == pgx.ErrNoRows {
			return Connection{}, fmt.Errorf("channel: no connection for property %s channel %s", propertyID, ch)
		}
		return Connection{}, fmt.Errorf("channel: loading connection: %w", err)
	}

	plaintext, err := s.cipher.Open(encrypted)
	if err != nil {
		return Connection{}, err
	}
	conn.Credentials = plaintext
	return conn, nil
}

// GetByExternalPropertyID resolves a platform's own property identifier
// back to the local connection, used by the webhook ingress: an inbound
// payload names the property only in the channel's own id scheme (spec
// §4.9 step 1).
func (s *Store) GetByExternalPropertyID(ctx context.Context, ch, externalPropertyID string) (Connection, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, property_id, channel, external_property_id, credentials_encrypted,
		       sync_enabled, last_sync_at, last_error
		FROM channel_connections
		WHERE channel = $1 AND external_property_id = $2`, ch, externalPropertyID)

	var (
		conn      Connection
		encrypted []byte
	)
	if err := row.Scan(&conn.ID, &conn.PropertyID, &conn.Channel, &conn.ExternalPropertyID,
		&encrypted, &conn.SyncEnabled, &conn.LastSyncAt, &conn.LastError); err != nil {
		if err == pgx.ErrNoRows {
			return Connection{}, fmt.Errorf("channel: no connection for channel %s external property %s", ch, externalPropertyID)
		}
		return Connection{}, fmt.Errorf("channel: loading connection by external property: %w", err)
	}

	plaintext, err := s.cipher.Open(encrypted)
	if err != nil {
		return Connection{}, err
	}
	conn.Credentials = plaintext
	return conn, nil
}

// ListEnabled returns every sync-enabled connection, used by the
// dispatcher and reconciler to discover work across properties.
func (s *Store) ListEnabled(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, property_id, channel, external_property_id, credentials_encrypted,
		       sync_enabled, last_sync_at, last_error
		FROM channel_connections
		WHERE sync_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("channel: listing connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var (
			conn      Connection
			encrypted []byte
		)
		if err := rows.Scan(&conn.ID, &conn.PropertyID, &conn.Channel, &conn.ExternalPropertyID,
			&encrypted, &conn.SyncEnabled, &conn.LastSyncAt, &conn.LastError); err != nil {
			return nil, fmt.Errorf("channel: scanning connection: %w", err)
		}
		plaintext, err := s.cipher.Open(encrypted)
		if err != nil {
			return nil, err
		}
		conn.Credentials = plaintext
		out = append(out, conn)
	}
	return out, rows.Err()
}

// UpdateCredentials persists a refreshed credential payload, re-sealing
// it under the store's cipher.
func (s *Store) UpdateCredentials(ctx context.Context, connID uuid.UUID, credentials json.RawMessage) error {
	sealed, err := s.cipher.Seal(credentials)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `UPDATE channel_connections SET credentials_encrypted = $1 WHERE id = $2`, sealed, connID)
	if err != nil {
		return fmt.Errorf("channel: updating credentials: %w", err)
	}
	return nil
}

// SetSyncEnabled toggles whether the dispatcher and reconciler operate on
// this connection. Used to disable a connection whose credentials could
// not be refreshed after an AUTH_FAILED delivery (spec §4.8 step 5).
func (s *Store) SetSyncEnabled(ctx context.Context, connID uuid.UUID, enabled bool) error {
	_, err := s.db.Exec(ctx, `UPDATE channel_connections SET sync_enabled = $1 WHERE id = $2`, enabled, connID)
	if err != nil {
		return fmt.Errorf("channel: updating sync_enabled: %w", err)
	}
	return nil
}

// RecordSyncResult updates last_sync_at / last_error after a dispatch
// attempt or reconciliation pass touches this connection.
func (s *Store) RecordSyncResult(ctx context.Context, connID uuid.UUID, syncErr error) error {
	var errText *string
	if syncErr != nil {
		msg := syncErr.Error()
		errText = &msg
	}
	_, err := s.db.Exec(ctx, `
		UPDATE channel_connections
		SET last_sync_at = now(), last_error = $2
		WHERE id = $1`, connID, errText)
	if err != nil {
		return fmt.Errorf("channel: recording sync result: %w", err)
	}
	return nil
}

// GetExternalID returns the external booking id a prior UpsertBooking
// assigned on channel, if any.
func (s *Store) GetExternalID(ctx context.Context, bookingID uuid.UUID, ch string) (string, bool, error) {
	var externalID string
	err := s.db.QueryRow(ctx,
		`SELECT external_id FROM channel_booking_refs WHERE booking_id = $1 AND channel = $2`,
		bookingID, ch).Scan(&externalID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("channel: loading external id: %w", err)
	}
	return externalID, true, nil
}

// PutExternalID records the external id a channel assigned to a local
// booking on the most recent successful UpsertBooking.
func (s *Store) PutExternalID(ctx context.Context, bookingID uuid.UUID, ch, externalID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO channel_booking_refs (booking_id, channel, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (booking_id, channel) DO UPDATE SET external_id = $3, updated_at = now()`,
		bookingID, ch, externalID)
	if err != nil {
		return fmt.Errorf("channel: storing external id: %w", err)
	}
	return nil
}
