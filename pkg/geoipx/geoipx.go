// Package geoipx implements the geo/IP cross-check (§4.F expansion): it
// compares a packet's device-asserted geo cell against the region inferred
// from its source IP address, purely for logging and metrics. It never
// participates in admission decisions.
package geoipx

import (
	"fmt"
	"net/netip"
	"os"
	"sync"

	"github.com/pg9182/ip2x"
	"github.com/sinyalist/ingestd/pkg/regionmap"
)

// Checker wraps a file-backed IP2Location database, the same way the
// reference stack's ip2xMgr does, reloadable on SIGHUP via Load(name="").
type Checker struct {
	mu   sync.RWMutex
	file *os.File
	db   *ip2x.DB
}

// Load replaces the currently loaded database with the specified file. If
// name is empty, the existing database, if any, is reopened.
func (c *Checker) Load(name string) error {
	c.mu.RLock()
	if name == "" {
		if c.file == nil {
			c.mu.RUnlock()
			return fmt.Errorf("no ip2location database loaded")
		}
		name = c.file.Name()
	}
	c.mu.RUnlock()

	f, err := os.Open(name)
	if err != nil {
		return err
	}

	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return err
	}
	if p, _ := db.Info(); p != ip2x.IP2Location {
		f.Close()
		return fmt.Errorf("not an ip2location database")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		c.file.Close()
	}
	c.file, c.db = f, db
	return nil
}

// Check looks up ip's inferred region and the region implied by the packet's
// asserted coordinates, reporting whether they diverge. ok is false if either
// side could not be determined (no database loaded, IP not found, or
// coordinates outside every known bounding box) — in that case mismatch is
// always false, since there is nothing to compare.
func (c *Checker) Check(ip netip.Addr, latE7, lonE7 int32) (sourceRegion, assertedRegion string, mismatch, ok bool) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return
	}

	rec, err := db.Lookup(ip)
	if err != nil {
		return
	}
	sourceRegion, err = regionmap.GetRegion(ip, rec)
	if err != nil || sourceRegion == "" {
		return
	}

	assertedRegion = regionForCoords(float64(latE7)/1e7, float64(lonE7)/1e7)
	if assertedRegion == "" {
		sourceRegion = ""
		return
	}

	ok = true
	mismatch = sourceRegion != assertedRegion
	return
}

// regionForCoords buckets a (lat, lon) pair into the same coarse region
// labels produced by regionmap.GetRegion, using simple bounding boxes instead
// of an IP2Location lookup. This is deliberately approximate — "coarsely
// reverse-mapped", not a real reverse geocoder — since the result is only
// ever logged or counted, never used to gate admission. Coordinates outside
// every known box return "".
func regionForCoords(lat, lon float64) string {
	switch {
	case lat <= -60:
		return "Antartica"
	case lat >= 49 && lat <= 83 && lon >= -141 && lon <= -52:
		switch {
		case lat >= 60:
			return "CA North"
		case lon <= -100:
			return "CA West"
		default:
			return "CA East"
		}
	case lat >= 24 && lat <= 49 && lon >= -125 && lon <= -66:
		switch {
		case lon <= -100:
			return "US West"
		case lon <= -90:
			return "US Central"
		case lat <= 39:
			return "US South"
		default:
			return "US East"
		}
	case lat >= -56 && lat <= 24 && lon >= -120 && lon <= -30:
		return "Americas"
	case lat >= 35 && lat <= 71 && lon >= -25 && lon <= 40:
		switch {
		case lat < 45:
			return "EU South"
		case lat >= 55:
			return "EU North"
		case lon <= 15:
			return "EU West"
		default:
			return "EU East"
		}
	case lat >= 41 && lat <= 82 && lon >= 40 && lon <= 180:
		return "RU"
	case lat >= 18 && lat <= 54 && lon >= 73 && lon <= 135:
		return "CN"
	case lat >= -10 && lat <= 55 && lon >= 40 && lon <= 150:
		switch {
		case lon <= 60:
			return "Asia West"
		case lon <= 75:
			return "Asia Central"
		case lon <= 100:
			return "Asia South"
		default:
			return "Asia East"
		}
	case lat >= -50 && lat <= 0 && lon >= 110 && lon <= 180:
		return "AUS"
	case lat >= -35 && lat <= 37 && lon >= -20 && lon <= 55:
		return "Africa"
	default:
		return ""
	}
}
