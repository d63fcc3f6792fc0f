package models

import "time"

// BinStatus is the operational status of a bin
type BinStatus string

const (
	BinStatusPending     BinStatus = "pending"
	BinStatusInProgress  BinStatus = "in-progress"
	BinStatusCollected   BinStatus = "collected"
	BinStatusOverflow    BinStatus = "overflow"
	BinStatusMaintenance BinStatus = "maintenance"
)

// WasteCategory classifies what a bin holds
type WasteCategory string

const (
	WasteGeneral    WasteCategory = "general"
	WasteRecyclable WasteCategory = "recyclable"
	WasteOrganic    WasteCategory = "organic"
	WasteHazardous  WasteCategory = "hazardous"
	WasteElectronic WasteCategory = "electronic"
)

// Valid reports whether c is a known waste category
func (c WasteCategory) Valid() bool {
	switch c {
	case WasteGeneral, WasteRecyclable, WasteOrganic, WasteHazardous, WasteElectronic:
		return true
	}
	return false
}

type Bin struct {
	ID             string        `json:"id" db:"id"`
	Address        string        `json:"address" db:"address"`
	Latitude       *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64      `json:"longitude,omitempty" db:"longitude"`
	FillLevel      int           `json:"fill_level" db:"fill_level"`
	WasteCategory  WasteCategory `json:"waste_category" db:"waste_category"`
	Capacity       int           `json:"capacity" db:"capacity"` // litres
	Status         BinStatus     `json:"status" db:"status"`
	Priority       int           `json:"priority" db:"priority"`
	LastCollected  *int64        `json:"last_collected,omitempty" db:"last_collected"` // Unix timestamp
	ReportedBy     *string       `json:"reported_by,omitempty" db:"reported_by"`
	RewardAssigned bool          `json:"reward_assigned" db:"reward_assigned"`
	CreatedAt      int64         `json:"created_at" db:"created_at"` // Unix timestamp
	UpdatedAt      int64         `json:"updated_at" db:"updated_at"` // Unix timestamp
	Version        int           `json:"version" db:"version"`
}

// BinResponse is what we send to the client with ISO timestamps
type BinResponse struct {
	ID               string        `json:"id"`
	Address          string        `json:"address"`
	Latitude         *float64      `json:"latitude,omitempty"`
	Longitude        *float64      `json:"longitude,omitempty"`
	FillLevel        int           `json:"fill_level"`
	WasteCategory    WasteCategory `json:"waste_category"`
	Capacity         int           `json:"capacity"`
	Status           BinStatus     `json:"status"`
	Priority         int           `json:"priority"`
	NeedsCollection  bool          `json:"needs_collection"`
	LastCollectedIso *string       `json:"lastCollectedIso,omitempty"`
	ReportedBy       *string       `json:"reported_by,omitempty"`
}

// Location returns the bin coordinates, or nil when the bin has not been geocoded
func (b *Bin) Location() *Location {
	if b.Latitude == nil || b.Longitude == nil {
		return nil
	}
	return &Location{Latitude: *b.Latitude, Longitude: *b.Longitude}
}

// ToBinResponse converts a Bin to BinResponse
func (b *Bin) ToBinResponse(needsCollection bool) BinResponse {
	resp := BinResponse{
		ID:              b.ID,
		Address:         b.Address,
		Latitude:        b.Latitude,
		Longitude:       b.Longitude,
		FillLevel:       b.FillLevel,
		WasteCategory:   b.WasteCategory,
		Capacity:        b.Capacity,
		Status:          b.Status,
		Priority:        b.Priority,
		NeedsCollection: needsCollection,
		ReportedBy:      b.ReportedBy,
	}

	if b.LastCollected != nil {
		iso := time.Unix(*b.LastCollected, 0).UTC().Format(time.RFC3339)
		resp.LastCollectedIso = &iso
	}

	return resp
}

// Location represents a geographic point
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
