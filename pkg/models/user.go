package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// allDevicesSentinel is the wire form of unrestricted device access.
const allDevicesSentinel = "all"

// Permissions is a user's device allow-list, or unrestricted access.
// The unrestricted form can only be built with AllDevices.
type Permissions struct {
	all     bool
	devices []string
}

// AllDevices returns unrestricted device access. Only meaningful for admins.
func AllDevices() Permissions {
	return Permissions{all: true}
}

// DeviceSet returns an explicit allow-list. Duplicates and blank ids are
// dropped and the result is sorted.
func DeviceSet(deviceIDs ...string) Permissions {
	devices := make([]string, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		devices = append(devices, id)
	}
	slices.Sort(devices)
	return Permissions{devices: slices.Compact(devices)}
}

// IsAll reports whether p is the unrestricted sentinel.
func (p Permissions) IsAll() bool {
	return p.all
}

// Devices returns a copy of the explicit allow-list (nil for the sentinel).
func (p Permissions) Devices() []string {
	if p.all {
		return nil
	}
	return slices.Clone(p.devices)
}

// Contains reports whether deviceID is in the explicit allow-list.
// The sentinel contains nothing; admin access is decided by role.
func (p Permissions) Contains(deviceID string) bool {
	if p.all {
		return false
	}
	_, found := slices.BinarySearch(p.devices, deviceID)
	return found
}

// Without returns p with deviceID removed from the allow-list.
func (p Permissions) Without(deviceID string) Permissions {
	if p.all || !p.Contains(deviceID) {
		return p
	}
	devices := make([]string, 0, len(p.devices)-1)
	for _, d := range p.devices {
		if d != deviceID {
			devices = append(devices, d)
		}
	}
	return Permissions{devices: devices}
}

type permissionsJSON struct {
	Devices json.RawMessage `json:"devices"`
}

// MarshalJSON encodes {"devices": "all"} or {"devices": [...]}.
func (p Permissions) MarshalJSON() ([]byte, error) {
	if p.all {
		return json.Marshal(map[string]string{"devices": allDevicesSentinel})
	}
	devices := p.devices
	if devices == nil {
		devices = []string{}
	}
	return json.Marshal(map[string][]string{"devices": devices})
}

// UnmarshalJSON accepts both wire forms.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var raw permissionsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: permissions: %v", ErrValidation, err)
	}
	trimmed := bytes.TrimSpace(raw.Devices)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = DeviceSet()
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: permissions.devices: %v", ErrValidation, err)
		}
		if s != allDevicesSentinel {
			return fmt.Errorf("%w: permissions.devices must be %q or a list", ErrValidation, allDevicesSentinel)
		}
		*p = AllDevices()
		return nil
	}
	var devices []string
	if err := json.Unmarshal(trimmed, &devices); err != nil {
		return fmt.Errorf("%w: permissions.devices: %v", ErrValidation, err)
	}
	*p = DeviceSet(devices...)
	return nil
}

// User is an account as persisted in the users collection.
type User struct {
	Username string `json:"username"`

	// Secret is the credential hash. It never leaves the users store;
	// use Public for anything sent to a client.
	Secret string `json:"password,omitempty"`

	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

// PublicUser is the client-facing view of a user.
type PublicUser struct {
	Username    string      `json:"username"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

// Public strips the credential secret.
func (u User) Public() PublicUser {
	return PublicUser{
		Username:    u.Username,
		Role:        u.Role,
		Permissions: u.Permissions,
	}
}

// IsAdmin reports whether u has unrestricted access.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanSee reports whether u may see readings of deviceID. Admins see every
// device regardless of the stored permissions; for everybody else the
// "all devices" sentinel grants nothing.
func (u User) CanSee(deviceID string) bool {
	if u.IsAdmin() {
		return true
	}
	return u.Permissions.Contains(deviceID)
}
