// Package geo resolves ASN and location metadata for probed hosts from local
// MaxMind databases. Lookups are synchronous and never fatal to callers; a
// miss just yields an empty record.
package geo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

var ErrInvalidIP = errors.New("geo: invalid ip address")

type Info struct {
	ASNumber  uint
	ASNOrg    string
	Country   string
	City      string
	Latitude  *float64
	Longitude *float64
}

type Resolver struct {
	asn  *geoip2.Reader
	city *geoip2.Reader
}

func NewResolver(asnPath, cityPath string) (*Resolver, error) {
	asn, err := geoip2.Open(asnPath)
	if err != nil {
		return nil, fmt.Errorf("geo: open asn database: %w", err)
	}
	city, err := geoip2.Open(cityPath)
	if err != nil {
		asn.Close()
		return nil, fmt.Errorf("geo: open city database: %w", err)
	}
	return &Resolver{asn: asn, city: city}, nil
}

func (r *Resolver) Lookup(host string) (Info, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.LookupIP(host)
		if err != nil || len(resolved) == 0 {
			return Info{}, ErrInvalidIP
		}
		ip = resolved[0]
	}

	var info Info

	if record, err := r.asn.ASN(ip); err == nil {
		info.ASNumber = record.AutonomousSystemNumber
		info.ASNOrg = record.AutonomousSystemOrganization
	}

	record, err := r.city.City(ip)
	if err != nil {
		return info, fmt.Errorf("geo: city lookup: %w", err)
	}
	info.Country = record.Country.IsoCode
	info.City = record.City.Names["en"]
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		info.Latitude = &lat
		info.Longitude = &lon
	}

	return info, nil
}

func (r *Resolver) Close() error {
	return errors.Join(r.asn.Close(), r.city.Close())
}
