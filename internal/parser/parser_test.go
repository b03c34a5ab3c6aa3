// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package parser

import (
	"testing"
	"time"
)

// fixedClock pins "now" so year inference is deterministic.
func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
	}
}

func TestParseLineFailedPassword(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.January, 10))

	line := "Jan  5 10:00:00 host sshd[1]: Failed password for invalid user admin from 203.0.113.5 port 2222 ssh2"
	ev, ok := p.ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}

	want := time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.IPAddress != "203.0.113.5" {
		t.Errorf("ip = %q, want 203.0.113.5", ev.IPAddress)
	}
	if ev.Port != 2222 {
		t.Errorf("port = %d, want 2222", ev.Port)
	}
	if ev.User != "admin" {
		t.Errorf("user = %q, want admin", ev.User)
	}
	if !ev.InvalidUser {
		t.Error("expected InvalidUser to be true")
	}
}

func TestParseLineValidUser(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.March, 1))

	line := "Feb 28 23:59:59 bastion sshd[4411]: Failed password for root from 198.51.100.9 port 54820 ssh2"
	ev, ok := p.ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.User != "root" {
		t.Errorf("user = %q, want root", ev.User)
	}
	if ev.InvalidUser {
		t.Error("expected InvalidUser to be false")
	}
}

func TestParseLineYearRollover(t *testing.T) {
	// A December line read in January belongs to the previous year.
	p := NewWithClock(fixedClock(2026, time.January, 2))

	line := "Dec 31 23:55:00 host sshd[9]: Failed password for root from 198.51.100.1 port 22 ssh2"
	ev, ok := p.ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Timestamp.Year() != 2025 {
		t.Errorf("year = %d, want 2025", ev.Timestamp.Year())
	}
}

func TestParseLineLeapDayRollover(t *testing.T) {
	// A Feb 29 line read after a rollover into a non-leap year must keep
	// its leap-day date instead of drifting to Mar 1.
	tests := []struct {
		name string
		now  func() time.Time
		want time.Time
	}{
		{
			name: "january after leap year",
			now:  fixedClock(2025, time.January, 2),
			want: time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "two non-leap years since",
			now:  fixedClock(2026, time.March, 1),
			want: time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "current year is leap",
			now:  fixedClock(2028, time.March, 1),
			want: time.Date(2028, time.February, 29, 12, 0, 0, 0, time.UTC),
		},
	}

	line := "Feb 29 12:00:00 host sshd[9]: Failed password for root from 203.0.113.9 port 22 ssh2"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWithClock(tt.now)
			ev, ok := p.ParseLine(line)
			if !ok {
				t.Fatal("expected line to parse")
			}
			if !ev.Timestamp.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", ev.Timestamp, tt.want)
			}
		})
	}
}

func TestParseLineSkips(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.June, 15))

	tests := []struct {
		name string
		line string
	}{
		{
			name: "accepted password",
			line: "Jun 14 08:00:00 host sshd[2]: Accepted password for alice from 192.0.2.10 port 50000 ssh2",
		},
		{
			name: "connection closed",
			line: "Jun 14 08:00:01 host sshd[3]: Connection closed by 192.0.2.11 port 50001 [preauth]",
		},
		{
			name: "empty line",
			line: "",
		},
		{
			name: "garbage",
			line: "not a log line at all",
		},
		{
			name: "port out of range",
			line: "Jun 14 08:00:02 host sshd[4]: Failed password for root from 192.0.2.12 port 99999 ssh2",
		},
		{
			name: "malformed ip",
			line: "Jun 14 08:00:03 host sshd[5]: Failed password for root from 300.400.1 port 22 ssh2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := p.ParseLine(tt.line); ok {
				t.Errorf("expected line to be skipped: %q", tt.line)
			}
		})
	}
}

func TestParseLineUserWithSpaces(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.June, 15))

	line := "Jun 14 08:00:00 host sshd[2]: Failed password for invalid user test user from 192.0.2.10 port 22 ssh2"
	ev, ok := p.ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.User != "test user" {
		t.Errorf("user = %q, want %q", ev.User, "test user")
	}
}

func TestParseLines(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.June, 15))

	lines := []string{
		"Jun 14 08:00:00 host sshd[2]: Failed password for root from 192.0.2.10 port 22 ssh2",
		"Jun 14 08:00:01 host sshd[3]: Accepted password for alice from 192.0.2.11 port 22 ssh2",
		"Jun 14 08:00:02 host sshd[4]: Failed password for invalid user admin from 192.0.2.12 port 23 ssh2",
	}

	events := p.ParseLines(lines)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].User != "root" || events[1].User != "admin" {
		t.Errorf("unexpected users: %q, %q", events[0].User, events[1].User)
	}
}

func TestParseLineSingleDigitDay(t *testing.T) {
	p := NewWithClock(fixedClock(2026, time.June, 15))

	// syslog pads single-digit days with an extra space
	line := "Jun  1 00:00:00 host sshd[2]: Failed password for root from 192.0.2.10 port 22 ssh2"
	ev, ok := p.ParseLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Timestamp.Day() != 1 {
		t.Errorf("day = %d, want 1", ev.Timestamp.Day())
	}
}
