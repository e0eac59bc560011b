package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const userKeyPrefix = "usr/"

type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

var ErrUserNotFound = errors.New("user not found")

func userKey(username string) []byte {
	return []byte(userKeyPrefix + username)
}

// storedUser is the persisted form; unlike User it carries the hash.
type storedUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s storedUser) user() *User {
	return &User{
		ID:           s.ID,
		Username:     s.Username,
		PasswordHash: s.PasswordHash,
		Role:         s.Role,
		CreatedAt:    s.CreatedAt,
	}
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u storedUser
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u.user(), nil
}

func (s *Store) Create(ctx context.Context, username, password string, role Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := storedUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	value, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(username), value)
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u.user(), nil
}

type usersFile struct {
	Users []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
	} `yaml:"users"`
}

// SeedFromFile creates the users listed in a yaml file if they do not exist
// yet. A missing file is not an error; the service just starts with no
// accounts.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return err
	}
	for _, u := range uf.Users {
		if u.Username == "" || u.Password == "" {
			continue
		}
		if _, err := s.GetByUsername(ctx, u.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		if _, err := s.Create(ctx, u.Username, u.Password, u.Role); err != nil {
			return err
		}
	}
	return nil
}
