// Package users manages dashboard accounts and their credentials.
package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fidde/herd_weight_dashboard/internal/storage"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// CollectionName is the backend collection holding the accounts.
const CollectionName = "users"

// Store holds user accounts. Secrets are bcrypt hashes and are only
// compared here.
type Store struct {
	coll   *storage.Collection[models.User]
	logger *slog.Logger
	cost   int
}

// Option configures a Store.
type Option func(*Store)

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// Open loads the users collection.
func Open(ctx context.Context, backend storage.Backend, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	coll, err := storage.OpenCollection[models.User](ctx, backend, CollectionName, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{coll: coll, logger: logger, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureAdmin creates an admin account if there are no users at all.
// It reports whether one was created.
func (s *Store) EnsureAdmin(ctx context.Context, username, secret string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return false, fmt.Errorf("%w: bootstrap admin needs a username and password", models.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return false, fmt.Errorf("hashing password: %w", err)
	}

	var created bool
	err = s.coll.Mutate(ctx, func(items []models.User) ([]models.User, error) {
		if len(items) > 0 {
			return nil, storage.ErrUnchanged
		}
		created = true
		return []models.User{{
			Username:    username,
			Secret:      string(hash),
			Role:        models.RoleAdmin,
			Permissions: models.AllDevices(),
		}}, nil
	})
	if err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}
	if created {
		s.logger.Info("created bootstrap admin", "username", username)
	}
	return created, nil
}

// Register creates a regular user with no device access.
func (s *Store) Register(ctx context.Context, username, secret string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return models.User{}, fmt.Errorf("%w: username and password are required", models.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, fmt.Errorf("%w: password too long", models.ErrValidation)
		}
		return models.User{}, fmt.Errorf("hashing password: %w", err)
	}

	user := models.User{
		Username:    username,
		Secret:      string(hash),
		Role:        models.RoleUser,
		Permissions: models.DeviceSet(),
	}

	err = s.coll.Mutate(ctx, func(items []models.User) ([]models.User, error) {
		if indexOf(items, username) >= 0 {
			return nil, fmt.Errorf("%w: user %s already exists", models.ErrConflict, username)
		}
		return append(items, user), nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("registering user: %w", err)
	}
	return user, nil
}

// Authenticate checks a username and password. Accounts stored with a
// plaintext password are rehashed on their first successful login.
func (s *Store) Authenticate(ctx context.Context, username, secret string) (models.User, error) {
	user, err := s.Get(username)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: invalid username or password", models.ErrUnauthorized)
	}

	if !isHash(user.Secret) {
		if user.Secret == "" || subtle.ConstantTimeCompare([]byte(user.Secret), []byte(secret)) != 1 {
			return models.User{}, fmt.Errorf("%w: invalid username or password", models.ErrUnauthorized)
		}
		if err := s.rehash(ctx, username, secret); err != nil {
			s.logger.Warn("rehashing legacy password failed", "username", username, "error", err)
		}
		return user, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Secret), []byte(secret)); err != nil {
		return models.User{}, fmt.Errorf("%w: invalid username or password", models.ErrUnauthorized)
	}
	return user, nil
}

func (s *Store) rehash(ctx context.Context, username, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return err
	}
	_, err = s.Update(ctx, username, func(u *models.User) error {
		u.Secret = string(hash)
		return nil
	})
	return err
}

// List returns every user in registration order.
func (s *Store) List() []models.User {
	items, _ := s.coll.Snapshot()
	return items
}

// Get returns the user with the given (case-sensitive) name.
func (s *Store) Get(username string) (models.User, error) {
	items, _ := s.coll.Snapshot()
	if i := indexOf(items, username); i >= 0 {
		return items[i], nil
	}
	return models.User{}, fmt.Errorf("%w: user %s", models.ErrNotFound, username)
}

// Update applies fn to one user and persists the result. An error from fn
// aborts the update.
func (s *Store) Update(ctx context.Context, username string, fn func(*models.User) error) (models.User, error) {
	var updated models.User
	err := s.coll.Mutate(ctx, func(items []models.User) ([]models.User, error) {
		i := indexOf(items, username)
		if i < 0 {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, username)
		}
		if err := fn(&items[i]); err != nil {
			return nil, err
		}
		updated = items[i]
		return items, nil
	})
	if err != nil {
		return models.User{}, err
	}
	return updated, nil
}

// UpdateAll applies fn to every user in one write. fn reports whether it
// changed the user; if none changed, nothing is written.
func (s *Store) UpdateAll(ctx context.Context, fn func(*models.User) bool) (int, error) {
	var changed int
	err := s.coll.Mutate(ctx, func(items []models.User) ([]models.User, error) {
		changed = 0
		for i := range items {
			if fn(&items[i]) {
				changed++
			}
		}
		if changed == 0 {
			return nil, storage.ErrUnchanged
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Close stops the writer. The backend stays open.
func (s *Store) Close() error {
	return s.coll.Close()
}

func indexOf(items []models.User, username string) int {
	for i := range items {
		if items[i].Username == username {
			return i
		}
	}
	return -1
}

func isHash(secret string) bool {
	_, err := bcrypt.Cost([]byte(secret))
	return err == nil
}
