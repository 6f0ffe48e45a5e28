package models

import "time"

type Vehicle struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Type            ServiceType `json:"type" yaml:"type"`
	CapacityTons    float64     `json:"capacity_tons" yaml:"capacity_tons"`
	LicensePlate    string      `json:"license_plate" yaml:"license_plate"`
	IsAvailable     bool        `json:"is_available" yaml:"is_available"`
	HourlyRateCents int64       `json:"hourly_rate_cents" yaml:"hourly_rate_cents"`
	CreatedAt       time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time   `json:"updated_at" yaml:"-"`
}
