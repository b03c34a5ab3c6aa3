// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package parser extracts failed SSH login attempts from sshd auth log lines.
package parser

import (
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/bastionmap/bastionmap/internal/models"
)

// failedLoginPattern matches sshd "Failed password" lines in the traditional
// syslog format, e.g.
//
//	Jan  5 10:00:00 host sshd[1234]: Failed password for invalid user admin from 203.0.113.5 port 2222 ssh2
//
// Capture groups: timestamp, optional "invalid user" marker, username,
// IPv4 address, port.
var failedLoginPattern = regexp.MustCompile(
	`^(\w{3} {1,2}\d{1,2} \d{2}:\d{2}:\d{2}) .*?Failed password for( invalid user)? (.*?) from ([\d.]+) port (\d+)`,
)

// syslogTimeLayout is the classic syslog timestamp format. It carries no year,
// so the year is inferred at parse time.
const syslogTimeLayout = "Jan _2 15:04:05"

// Parser turns raw auth log lines into ParsedEvents. The zero value is not
// usable; construct with New.
type Parser struct {
	// now is injected for tests; defaults to time.Now.
	now func() time.Time
}

// New creates a Parser using the real clock.
func New() *Parser {
	return &Parser{now: time.Now}
}

// NewWithClock creates a Parser with a custom clock, used by tests to pin the
// inferred year.
func NewWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// ParseLine parses a single auth log line. The second return value is false
// when the line is not a failed-password record or fails validation; such
// lines are skipped, never treated as errors.
func (p *Parser) ParseLine(line string) (models.ParsedEvent, bool) {
	m := failedLoginPattern.FindStringSubmatch(line)
	if m == nil {
		return models.ParsedEvent{}, false
	}

	ts, ok := p.parseTimestamp(m[1])
	if !ok {
		return models.ParsedEvent{}, false
	}

	ip := m[4]
	if net.ParseIP(ip) == nil || net.ParseIP(ip).To4() == nil {
		return models.ParsedEvent{}, false
	}

	port, err := strconv.Atoi(m[5])
	if err != nil || port < 1 || port > 65535 {
		return models.ParsedEvent{}, false
	}

	return models.ParsedEvent{
		Timestamp:   ts,
		IPAddress:   ip,
		Port:        port,
		User:        m[3],
		InvalidUser: m[2] != "",
	}, true
}

// ParseLines parses a batch of lines, returning only the events that matched.
func (p *Parser) ParseLines(lines []string) []models.ParsedEvent {
	events := make([]models.ParsedEvent, 0, len(lines))
	for _, line := range lines {
		if ev, ok := p.ParseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// parseTimestamp parses a syslog timestamp, inferring the current year in UTC.
// A December timestamp read in January belongs to the previous year, and a
// Feb 29 line carried across the rollover must stay Feb 29 rather than being
// normalized to Mar 1 of a non-leap year.
func (p *Parser) parseTimestamp(raw string) (time.Time, bool) {
	ts, err := time.ParseInLocation(syslogTimeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, false
	}

	now := p.now().UTC()
	withYear := atYear(ts, now.Year())
	if withYear.After(now.Add(24 * time.Hour)) {
		withYear = atYear(ts, now.Year()-1)
	}
	return withYear, true
}

// atYear rebuilds ts in the given year. time.Date normalizes Feb 29 to Mar 1
// in a non-leap year, which shifts the month; when that happens the line can
// only have come from the preceding leap year.
func atYear(ts time.Time, year int) time.Time {
	t := time.Date(year, ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.UTC)
	for t.Month() != ts.Month() {
		year--
		t = time.Date(year, ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.UTC)
	}
	return t
}
