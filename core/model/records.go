package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SafetyCheckType identifies the kind of safety attestation.
type SafetyCheckType string

// StartOfDay is the pre-route check gating stop access.
const StartOfDay SafetyCheckType = "START_OF_DAY"

// SafetyCheck is a driver's attestation for a route on a calendar day.
type SafetyCheck struct {
	ID        string          `json:"id"`
	RouteID   string          `json:"routeId"`
	DriverID  string          `json:"driverId"`
	Type      SafetyCheckType `json:"type"`
	Day       string          `json:"day"`
	CreatedAt time.Time       `json:"createdAt"`
}

// KPIKey identifies a DailyKPI row.
type KPIKey struct {
	DriverID string
	Date     string
}

// DailyKPI aggregates a driver's deliveries for one day.
type DailyKPI struct {
	DriverID       string    `json:"driverId"`
	Date           string    `json:"date"`
	StopsTotal     int       `json:"stopsTotal"`
	StopsCompleted int       `json:"stopsCompleted"`
	TotalDelivered float64   `json:"totalDelivered"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ComputeKPI counts stops into a DailyKPI. Deleted and cancelled stops are
// excluded from the total.
func ComputeKPI(key KPIKey, stops []Stop, at time.Time) DailyKPI {
	k := DailyKPI{DriverID: key.DriverID, Date: key.Date, UpdatedAt: at}
	for _, s := range stops {
		if s.Deleted() || s.Status == StopCancelled {
			continue
		}
		k.StopsTotal++
		if s.Status == StopCompleted {
			k.StopsCompleted++
			k.TotalDelivered += s.Amount
		}
	}
	return k
}

// AdminNote is a note attached by an administrator to a route or stop.
type AdminNote struct {
	ID        string    `json:"id"`
	RouteID   string    `json:"routeId"`
	StopID    string    `json:"stopId,omitempty"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// DriverLocation is a GPS fix reported by a driver device.
type DriverLocation struct {
	DriverID  string    `json:"driverId"`
	RouteID   string    `json:"routeId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks coordinates and identity.
func (l DriverLocation) Validate() error {
	if l.DriverID == "" {
		return errors.New("location: driver id required")
	}
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("location: latitude %v out of range", l.Lat)
	}
	if math.IsNaN(l.Lng) || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("location: longitude %v out of range", l.Lng)
	}
	if l.Speed != nil && *l.Speed < 0 {
		return fmt.Errorf("location: negative speed %v", *l.Speed)
	}
	return nil
}
