package sessionstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	dbmodel "taskpilot/cli/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	keyAccessTokenEnc = "session_access_token_enc"
	keyTokenType      = "session_token_type"
	keyIdentityJSON   = "session_user_json"
	secretKeySize     = 32
)

// Snapshot is the persisted form of a session: the bearer credential and the
// identity JSON exactly as the server returned it.
type Snapshot struct {
	AccessToken string
	TokenType   string
	Identity    json.RawMessage
}

type Store struct {
	db  *gorm.DB
	key []byte
}

// NewStore uses the shared client DB. Caller must not close the db through the store.
func NewStore(db *gorm.DB, secretPath string) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	key, err := loadOrCreateSecretKey(secretPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, key: key}, nil
}

// Save replaces the persisted snapshot. Credential and identity are written
// in one transaction so a reader never sees one without the other.
func (s *Store) Save(snap Snapshot) error {
	if s == nil || s.db == nil {
		return errors.New("session store is not initialized")
	}
	token := strings.TrimSpace(snap.AccessToken)
	if token == "" {
		return errors.New("access token is required")
	}
	if len(snap.Identity) == 0 || !json.Valid(snap.Identity) {
		return errors.New("identity must be valid json")
	}
	enc, err := encrypt(token, s.key)
	if err != nil {
		return err
	}
	tokenType := strings.TrimSpace(snap.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertValue(tx, keyAccessTokenEnc, enc); err != nil {
			return err
		}
		if err := upsertValue(tx, keyTokenType, tokenType); err != nil {
			return err
		}
		return upsertValue(tx, keyIdentityJSON, string(snap.Identity))
	})
}

// Load returns the persisted snapshot. ok is false when no complete snapshot
// exists; a half-written snapshot is treated as absent.
func (s *Store) Load() (snap Snapshot, ok bool, err error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, errors.New("session store is not initialized")
	}
	enc, hasToken, err := s.rawValue(keyAccessTokenEnc)
	if err != nil {
		return Snapshot{}, false, err
	}
	identity, hasIdentity, err := s.rawValue(keyIdentityJSON)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !hasToken || !hasIdentity || strings.TrimSpace(enc) == "" {
		return Snapshot{}, false, nil
	}
	token, err := decrypt(enc, s.key)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("decrypt persisted credential: %w", err)
	}
	tokenType, _, err := s.rawValue(keyTokenType)
	if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{
		AccessToken: token,
		TokenType:   tokenType,
		Identity:    json.RawMessage(identity),
	}, true, nil
}

// Clear removes every persisted session key.
func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errors.New("session store is not initialized")
	}
	return s.db.Where("key IN ?", []string{keyAccessTokenEnc, keyTokenType, keyIdentityJSON}).Delete(&dbmodel.State{}).Error
}

func (s *Store) rawValue(key string) (string, bool, error) {
	var row dbmodel.State
	err := s.db.Model(&dbmodel.State{}).Select("value").Where("key = ?", key).Take(&row).Error
	if err == nil {
		return row.Value, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	return "", false, err
}

func upsertValue(tx *gorm.DB, key, value string) error {
	row := dbmodel.State{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Unix(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func loadOrCreateSecretKey(secretPath string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(secretPath), 0o700); err != nil {
		return nil, err
	}
	if b, err := os.ReadFile(secretPath); err == nil {
		if len(b) != secretKeySize {
			return nil, fmt.Errorf("invalid session secret size: got %d", len(b))
		}
		return b, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key := make([]byte, secretKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(secretPath, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func encrypt(plain string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	combined := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func decrypt(enc string, key []byte) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plain, err := gcm.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
