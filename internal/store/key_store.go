package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalpipeline/pkg/crypto"
)

// ErrKeyNotFound is returned when no active exchange_keys row matches.
var ErrKeyNotFound = fmt.Errorf("exchange key not found")

// SQLiteKeyStore is the reference KeyStore, grounded in the teacher's
// pkg/crypto KeyManager (AES-256-GCM, versioned keys) layered over the
// connection-row shape in pkg/db's Connection/queries.
type SQLiteKeyStore struct {
	db  *sql.DB
	enc *crypto.KeyManager
}

// NewSQLiteKeyStore wraps an open DB handle and the process's KeyManager.
func NewSQLiteKeyStore(db *sql.DB, km *crypto.KeyManager) *SQLiteKeyStore {
	return &SQLiteKeyStore{db: db, enc: km}
}

// StoreCredentials encrypts and upserts a user's exchange API credentials.
func (s *SQLiteKeyStore) StoreCredentials(ctx context.Context, userID, exchange, apiKey, apiSecret, passphrase string) (string, error) {
	encKey, err := s.enc.Encrypt(apiKey)
	if err != nil {
		return "", fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := s.enc.Encrypt(apiSecret)
	if err != nil {
		return "", fmt.Errorf("encrypt api secret: %w", err)
	}
	var encPassphrase sql.NullString
	if passphrase != "" {
		v, err := s.enc.Encrypt(passphrase)
		if err != nil {
			return "", fmt.Errorf("encrypt passphrase: %w", err)
		}
		encPassphrase = sql.NullString{String: v, Valid: true}
	}

	keyID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchange_keys (
			key_id, user_id, exchange, api_key_encrypted, api_secret_encrypted,
			passphrase_encrypted, key_version, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, keyID, userID, exchange, encKey, encSecret, encPassphrase, s.enc.CurrentVersion())
	if err != nil {
		return "", fmt.Errorf("store exchange key: %w", err)
	}
	return keyID, nil
}

// Credentials loads and decrypts a user's active credentials for an
// exchange. When multiple active keys exist, the most recently created
// wins.
func (s *SQLiteKeyStore) Credentials(ctx context.Context, userID, exchange string) (Credentials, error) {
	var (
		keyID, encKey, encSecret string
		encPassphrase            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key_id, api_key_encrypted, api_secret_encrypted, passphrase_encrypted
		FROM exchange_keys
		WHERE user_id = ? AND exchange = ? AND is_active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, exchange).Scan(&keyID, &encKey, &encSecret, &encPassphrase)
	if err == sql.ErrNoRows {
		return Credentials{}, ErrKeyNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("query exchange key: %w", err)
	}

	apiKey, err := s.enc.Decrypt(encKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := s.enc.Decrypt(encSecret)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	var passphrase string
	if encPassphrase.Valid {
		passphrase, err = s.enc.Decrypt(encPassphrase.String)
		if err != nil {
			return Credentials{}, fmt.Errorf("decrypt passphrase: %w", err)
		}
	}

	return Credentials{KeyID: keyID, APIKey: apiKey, APISecret: apiSecret, Passphrase: passphrase}, nil
}

// MarkUsed stamps last_used_at on a successful credential use.
func (s *SQLiteKeyStore) MarkUsed(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exchange_keys SET last_used_at = ? WHERE key_id = ?
	`, time.Now().UTC(), keyID)
	return err
}

// MarkInvalid flips is_active=false, used when the venue reports an
// authentication failure so the Worker stops retrying with dead credentials.
func (s *SQLiteKeyStore) MarkInvalid(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exchange_keys SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE key_id = ?
	`, keyID)
	return err
}
