package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialVault = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialVault port.
// Secrets are encrypted with AES-256-GCM before write and decrypted after
// read. Rows are append-only: rotation inserts, failure soft-deletes.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key.
}

// NewCredentialRepo creates a CredentialRepo. key must be 32 bytes for
// AES-256-GCM. The constructor runs an encrypt/decrypt round-trip self-test
// so a malformed key fails at startup rather than on first use.
func NewCredentialRepo(db *DB, key []byte) (*CredentialRepo, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	r := &CredentialRepo{db: db, key: key}

	const probe = "demoforge-key-selftest"
	sealed, err := r.encrypt(probe)
	if err != nil {
		return nil, fmt.Errorf("encryption self-test: %w", err)
	}
	opened, err := r.decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("decryption self-test: %w", err)
	}
	if opened != probe {
		return nil, errors.New("encryption self-test: round trip mismatch")
	}

	return r, nil
}

// Store records a new credential for the user on the given platform, creating
// the user row on first submission and refreshing last_active otherwise. The
// credential row is appended; older active rows remain as fallback.
func (r *CredentialRepo) Store(ctx context.Context, email, name string, platform model.Platform, secret string) error {
	email = model.NormalizeEmail(email)

	encrypted, err := r.encrypt(secret)
	if err != nil {
		return err
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store credential: %w", err)
	}
	defer tx.Rollback()

	const upsertUser = `
		INSERT INTO users (email, name) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET
			last_active = CURRENT_TIMESTAMP,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END`
	if _, err := tx.ExecContext(ctx, upsertUser, email, name); err != nil {
		return fmt.Errorf("upsert user %s: %w", email, err)
	}

	const insertCred = `INSERT INTO credentials (email, platform, encrypted_secret) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertCred, email, platform, encrypted); err != nil {
		return fmt.Errorf("store credential for %s/%s: %w", email, platform, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store credential: %w", err)
	}
	return nil
}

// MostRecent returns the newest active credential that decrypts successfully.
func (r *CredentialRepo) MostRecent(ctx context.Context, email string, platform model.Platform) (model.Credential, error) {
	creds, err := r.AllActive(ctx, email, platform)
	if err != nil {
		return model.Credential{}, err
	}
	return creds[0], nil
}

// AllActive returns every active credential for (email, platform), newest
// first, decrypted. Rows that fail to decrypt are excluded and marked
// inactive in the background so a corrupted historical secret cannot block
// fallback on later calls.
func (r *CredentialRepo) AllActive(ctx context.Context, email string, platform model.Platform) ([]model.Credential, error) {
	email = model.NormalizeEmail(email)

	const query = `
		SELECT id, email, platform, encrypted_secret, created_at, last_used, is_active
		FROM credentials
		WHERE email = ? AND platform = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Reader.QueryContext(ctx, query, email, platform)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s/%s: %w", email, platform, err)
	}
	defer rows.Close()

	var (
		creds     []model.Credential
		total     int
		corrupted []int64
	)
	for rows.Next() {
		var (
			cred      model.Credential
			encrypted string
			createdAt string
			lastUsed  sql.NullString
		)
		if err := rows.Scan(&cred.ID, &cred.Email, &cred.Platform, &encrypted, &createdAt, &lastUsed, &cred.IsActive); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		total++

		plaintext, err := r.decrypt(encrypted)
		if err != nil {
			slog.Warn("credential failed to decrypt, scheduling deactivation",
				"credential_id", cred.ID, "email", email, "platform", string(platform), "error", err)
			corrupted = append(corrupted, cred.ID)
			continue
		}
		cred.Secret = plaintext

		cred.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for credential %d: %w", cred.ID, err)
		}
		if lastUsed.Valid {
			cred.LastUsed, err = parseTime(lastUsed.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_used for credential %d: %w", cred.ID, err)
			}
		}

		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	if len(corrupted) > 0 {
		go r.deactivateCorrupted(corrupted)
	}

	if total == 0 {
		return nil, driven.ErrNoCredential
	}
	if len(creds) == 0 {
		return nil, driven.ErrNoUsableCredential
	}
	return creds, nil
}

// MarkInactive soft-deletes a credential row.
func (r *CredentialRepo) MarkInactive(ctx context.Context, id int64) error {
	const query = `UPDATE credentials SET is_active = 0 WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark credential %d inactive: %w", id, err)
	}
	return nil
}

// TouchLastUsed records a successful use of the credential.
func (r *CredentialRepo) TouchLastUsed(ctx context.Context, id int64) error {
	const query = `UPDATE credentials SET last_used = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("touch credential %d: %w", id, err)
	}
	return nil
}

// deactivateCorrupted marks undecryptable rows inactive. Runs detached from
// the caller's context: the side effect should land even if the read that
// discovered the corruption is cancelled.
func (r *CredentialRepo) deactivateCorrupted(ids []int64) {
	for _, id := range ids {
		if err := r.MarkInactive(context.Background(), id); err != nil {
			slog.Error("failed to deactivate corrupted credential", "credential_id", id, "error", err)
		}
	}
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
