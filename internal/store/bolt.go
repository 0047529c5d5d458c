package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	usersBucket  = []byte("users")
	emailsBucket = []byte("user_emails")
)

// BoltStore is a bbolt-backed account store. Users are stored as JSON keyed
// by id, with a second bucket mapping normalized email to id.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path and its buckets.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBoltStore creates the account buckets in an already open database.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(usersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(emailsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// CreateUser inserts u, assigning an id and creation time when missing.
// The email uniqueness check and both writes happen in one transaction.
func (s *BoltStore) CreateUser(_ context.Context, u User) (User, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(u)
	if err != nil {
		return User{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket(emailsBucket)
		if emails.Get([]byte(u.Email)) != nil {
			return ErrEmailTaken
		}
		if err := tx.Bucket(usersBucket).Put([]byte(u.ID), data); err != nil {
			return err
		}
		return emails.Put([]byte(u.Email), []byte(u.ID))
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// FindUserByEmail returns the account registered under email.
func (s *BoltStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(emailsBucket).Get([]byte(NormalizeEmail(email)))
		if id == nil {
			return ErrUserNotFound
		}
		return loadUser(tx, id, &u)
	})
	return u, err
}

// FindUserByID returns the account with the given id.
func (s *BoltStore) FindUserByID(_ context.Context, id string) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		return loadUser(tx, []byte(id), &u)
	})
	return u, err
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func loadUser(tx *bolt.Tx, id []byte, u *User) error {
	data := tx.Bucket(usersBucket).Get(id)
	if data == nil {
		return ErrUserNotFound
	}
	if err := json.Unmarshal(data, u); err != nil {
		return fmt.Errorf("decode user %s: %w", id, err)
	}
	return nil
}
