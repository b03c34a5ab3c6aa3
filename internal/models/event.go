// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package models defines the data types shared across the ingestion pipeline,
// storage layer, and API surface.
package models

import "time"

// ParsedEvent is the transient result of parsing a single failed-login line
// from the auth log. It exists only between the parser and the writer; once
// enriched and persisted it is discarded.
type ParsedEvent struct {
	// Timestamp is year-inferred (sshd omits the year) and normalized to UTC.
	Timestamp time.Time

	// IPAddress is the dotted-quad IPv4 source of the attempt.
	IPAddress string

	// Port is the client source port, 1-65535.
	Port int

	// User is the username the attacker tried, verbatim from the log line.
	User string

	// InvalidUser is true when sshd logged "invalid user", i.e. the account
	// does not exist on the host.
	InvalidUser bool
}

// GeoRecord holds optional geolocation fields for an IP address. The zero
// value (all fields nil) is valid and means resolution failed or was never
// attempted; callers cannot and should not distinguish the two.
type GeoRecord struct {
	Country   *string  `json:"country"`
	Region    *string  `json:"region"`
	City      *string  `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Empty reports whether no geolocation field is populated.
func (g GeoRecord) Empty() bool {
	return g.Country == nil && g.Region == nil && g.City == nil &&
		g.Latitude == nil && g.Longitude == nil
}

// FailedLogin is a stored failed-authentication event: a ParsedEvent combined
// with its GeoRecord. The natural key is (Timestamp, IPAddress, Port); the
// storage layer enforces at most one row per key. Rows are never mutated
// after insert.
type FailedLogin struct {
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address"`
	Port      int       `json:"port"`
	City      *string   `json:"city"`
	Region    *string   `json:"region"`
	Country   *string   `json:"country"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

// NewFailedLogin combines a parsed event with its geolocation enrichment.
// The username is intentionally not persisted; the stored schema is keyed
// and queried purely on time, source address, and port.
func NewFailedLogin(ev ParsedEvent, geo GeoRecord) FailedLogin {
	return FailedLogin{
		Timestamp: ev.Timestamp,
		IPAddress: ev.IPAddress,
		Port:      ev.Port,
		City:      geo.City,
		Region:    geo.Region,
		Country:   geo.Country,
		Latitude:  geo.Latitude,
		Longitude: geo.Longitude,
	}
}

// CountryCount is one row of the count-by-country aggregate.
type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

// HourCount is one row of the count-by-hour aggregate. Hour is truncated to
// the start of the hour in UTC.
type HourCount struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}
