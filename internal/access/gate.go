// Package access restricts record visibility to the devices a user may see
// and keeps permissions consistent when devices are removed.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Scope returns the records user may see. Admins see everything; other
// users see records of the devices in their allow-list. The input is
// never modified.
func Scope(records []models.TelemetryRecord, user models.User) []models.TelemetryRecord {
	if user.IsAdmin() {
		return records
	}

	scoped := make([]models.TelemetryRecord, 0)
	for _, r := range records {
		if user.Permissions.Contains(r.DeviceID) {
			scoped = append(scoped, r)
		}
	}
	return scoped
}

// UserStore is the part of the users store the gate needs.
type UserStore interface {
	Get(username string) (models.User, error)
	Update(ctx context.Context, username string, fn func(*models.User) error) (models.User, error)
	UpdateAll(ctx context.Context, fn func(*models.User) bool) (int, error)
}

// RecordStore is the part of the record store the gate needs.
type RecordStore interface {
	DeleteByDevice(ctx context.Context, deviceID string) (int, error)
}

// Gate owns the operations that change who can see what.
type Gate struct {
	users   UserStore
	records RecordStore
	logger  *slog.Logger
}

// NewGate creates a gate over the two stores.
func NewGate(users UserStore, records RecordStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{users: users, records: records, logger: logger}
}

// SetUserPermissions replaces a non-admin user's device allow-list.
// Admin permissions cannot be changed, and the "all devices" value is
// reserved for admins.
func (g *Gate) SetUserPermissions(ctx context.Context, username string, perms models.Permissions) (models.User, error) {
	if strings.TrimSpace(username) == "" {
		return models.User{}, fmt.Errorf("%w: username is required", models.ErrValidation)
	}

	updated, err := g.users.Update(ctx, username, func(u *models.User) error {
		if u.IsAdmin() {
			return fmt.Errorf("%w: permissions of admin %s cannot be changed", models.ErrForbidden, username)
		}
		if perms.IsAll() {
			return fmt.Errorf("%w: only admins may access all devices", models.ErrValidation)
		}
		u.Permissions = perms
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("setting permissions: %w", err)
	}
	return updated, nil
}

// RemovalResult reports what RemoveDevice changed.
type RemovalResult struct {
	DeviceID       string `json:"deviceId"`
	UsersUpdated   int    `json:"usersUpdated"`
	RecordsRemoved int    `json:"recordsRemoved"`
}

// RemoveDevice drops deviceID from every allow-list and then deletes its
// records. Permissions go first: if the record delete fails, the device
// is still listed and no user can see it, and retrying completes the
// removal. Both steps are idempotent.
func (g *Gate) RemoveDevice(ctx context.Context, deviceID string) (RemovalResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return RemovalResult{}, fmt.Errorf("%w: deviceId is required", models.ErrValidation)
	}
	result := RemovalResult{DeviceID: deviceID}

	updated, err := g.users.UpdateAll(ctx, func(u *models.User) bool {
		if !u.Permissions.Contains(deviceID) {
			return false
		}
		u.Permissions = u.Permissions.Without(deviceID)
		return true
	})
	if err != nil {
		return result, fmt.Errorf("removing device %s from permissions: %w", deviceID, err)
	}
	result.UsersUpdated = updated

	removed, err := g.records.DeleteByDevice(ctx, deviceID)
	if err != nil {
		g.logger.Error("device removal incomplete; permissions already revoked",
			"device_id", deviceID,
			"error", err,
		)
		return result, fmt.Errorf("removing records of device %s: %w", deviceID, err)
	}
	result.RecordsRemoved = removed

	g.logger.Info("device removed",
		"device_id", deviceID,
		"users_updated", updated,
		"records_removed", removed,
	)
	return result, nil
}

// Caller resolves a username to the user a request acts for.
func (g *Gate) Caller(username string) (models.User, error) {
	if strings.TrimSpace(username) == "" {
		return models.User{}, fmt.Errorf("%w: no user given", models.ErrUnauthorized)
	}
	user, err := g.users.Get(username)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: unknown user %s", models.ErrUnauthorized, username)
	}
	return user, nil
}
