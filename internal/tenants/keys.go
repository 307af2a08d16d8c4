package tenants

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/models"
)

// WriteKey stores the credential that attributes ingestion requests to a
// tenant. The presented key has the form "<secret>-<keyId>"; only the
// bcrypt hash of the secret is stored.
type WriteKey struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"uniqueIndex;not null" json:"tenant_id"`
	KeyID     string    `gorm:"uniqueIndex;not null" json:"key_id"`
	KeyHash   string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvalidKeyError is returned when a write key does not resolve to a tenant.
type InvalidKeyError struct{}

func (e *InvalidKeyError) Error() string {
	return "invalid write key"
}

// NewInvalidKeyError creates a new InvalidKeyError
func NewInvalidKeyError() *InvalidKeyError {
	return &InvalidKeyError{}
}

// GenerateWriteKey issues a fresh write key for the tenant, replacing any
// existing one. The returned plaintext key is shown exactly once; only its
// hash is persisted.
func GenerateWriteKey(db *gorm.DB, logger *slog.Logger, tenantID string) (string, error) {
	if _, err := GetTenantByID(db, tenantID); err != nil {
		return "", err
	}

	secretBytes := make([]byte, 4)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(secretBytes)
	keyID := strings.Split(uuid.NewString(), "-")[0]

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	record := &WriteKey{
		TenantID: tenantID,
		KeyID:    keyID,
		KeyHash:  string(hash),
	}

	err = models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&WriteKey{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return "", err
	}

	return secret + "-" + keyID, nil
}

// KeyStore resolves write keys to tenant identifiers. It satisfies the
// key-store collaborator contract the event ingestor depends on.
type KeyStore struct {
	db *gorm.DB
}

// NewKeyStore creates a KeyStore backed by the given database connection.
func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db}
}

// LookupTenantByKey resolves a presented write key to the owning tenant id.
// Returns InvalidKeyError when the key is malformed, unknown, or fails
// the hash comparison.
func (s *KeyStore) LookupTenantByKey(key string) (string, error) {
	secret, keyID, ok := splitWriteKey(key)
	if !ok {
		return "", NewInvalidKeyError()
	}

	var record WriteKey
	if err := s.db.Where("key_id = ?", keyID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", NewInvalidKeyError()
		}
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(record.KeyHash), []byte(secret)) != nil {
		return "", NewInvalidKeyError()
	}

	return record.TenantID, nil
}

// splitWriteKey parses "<secret>-<keyId>" into its parts.
func splitWriteKey(key string) (secret, keyID string, ok bool) {
	if key == "" {
		return "", "", false
	}
	idx := strings.LastIndex(key, "-")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
