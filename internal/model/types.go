package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is a member's sharing status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status. The empty status is allowed and
// means "not reported".
func (s Status) Valid() bool {
	switch s {
	case "", StatusActive, StatusInactive:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Location
// -----------------------------------------------------------------------------

// LocationUpdate is a single position report from a group member's device.
type LocationUpdate struct {
	UserID       string   `json:"userId"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Status       Status   `json:"status,omitempty"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
}

// Validate checks coordinate ranges and enum values.
func (u LocationUpdate) Validate() error {
	if u.UserID == "" {
		return errors.New("userId is required")
	}
	if err := validateCoordinates(u.Latitude, u.Longitude); err != nil {
		return err
	}
	if !u.Status.Valid() {
		return fmt.Errorf("status %q is not one of active, inactive", u.Status)
	}
	if u.BatteryLevel != nil && (*u.BatteryLevel < 0 || *u.BatteryLevel > 100) {
		return fmt.Errorf("batteryLevel must be between 0 and 100, got %v", *u.BatteryLevel)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Favorite places
// -----------------------------------------------------------------------------

// FavoritePlace is a shared circular geofence.
type FavoritePlace struct {
	ID        string  `json:"id,omitempty"` // Empty when adding; the backend assigns one
	PlaceName string  `json:"placeName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // Meters, > 0
}

// Validate checks coordinates and radius.
func (p FavoritePlace) Validate() error {
	if p.PlaceName == "" {
		return errors.New("placeName is required")
	}
	if err := validateCoordinates(p.Latitude, p.Longitude); err != nil {
		return err
	}
	if p.Radius <= 0 {
		return fmt.Errorf("radius must be > 0, got %v", p.Radius)
	}
	return nil
}

// FavoritePlacePatch is a partial favorite place used for edits. Nil fields are
// left unchanged by the backend. Keys it does not model are kept in Extra.
type FavoritePlacePatch struct {
	ID        string   `json:"id"`
	PlaceName *string  `json:"placeName,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type patchFields FavoritePlacePatch

var patchKeys = []string{"id", "placeName", "latitude", "longitude", "radius"}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (p *FavoritePlacePatch) UnmarshalJSON(data []byte) error {
	var fields patchFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range patchKeys {
		delete(all, k)
	}
	fields.Extra = nil
	if len(all) > 0 {
		fields.Extra = all
	}
	*p = FavoritePlacePatch(fields)
	return nil
}

// MarshalJSON encodes the known fields followed by Extra. Extra never
// overrides a known key.
func (p FavoritePlacePatch) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(patchFields(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+len(patchKeys))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Validate checks that the patch targets a place and that set fields are in range.
func (p FavoritePlacePatch) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", *p.Latitude)
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", *p.Longitude)
	}
	if p.Radius != nil && *p.Radius <= 0 {
		return fmt.Errorf("radius must be > 0, got %v", *p.Radius)
	}
	return nil
}

// FavoritePlaceRef identifies a favorite place for deletion.
type FavoritePlaceRef struct {
	ID string `json:"id"`
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", lng)
	}
	return nil
}
