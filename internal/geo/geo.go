package geo

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type Result struct {
	Country     string
	CountryCode string
	City        string
	Region      string
	Timezone    string
	Latitude    float64
	Longitude   float64
}

// Empty reports whether the lookup produced nothing usable.
func (r Result) Empty() bool {
	return r.Country == "" && r.City == "" && r.Region == "" && r.Timezone == ""
}

type Reader struct {
	db *maxminddb.Reader
}

// Open opens a MaxMind City .mmdb file. An empty path yields a no-op Reader
// whose lookups always miss.
func Open(path string) (*Reader, error) {
	if path == "" {
		return &Reader{}, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Lookup resolves an IP to geo data. ok is false when there is no database,
// the address does not parse, or the database has no record for it.
func (r *Reader) Lookup(ipStr string) (Result, bool) {
	if r == nil || r.db == nil {
		return Result{}, false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Result{}, false
	}

	var record struct {
		Country struct {
			ISOCode string            `maxminddb:"iso_code"`
			Names   map[string]string `maxminddb:"names"`
		} `maxminddb:"country"`
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
		Subdivisions []struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"subdivisions"`
		Location struct {
			Latitude  float64 `maxminddb:"latitude"`
			Longitude float64 `maxminddb:"longitude"`
			TimeZone  string  `maxminddb:"time_zone"`
		} `maxminddb:"location"`
	}

	if err := r.db.Lookup(ip, &record); err != nil {
		return Result{}, false
	}

	res := Result{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.ISOCode,
		City:        record.City.Names["en"],
		Timezone:    record.Location.TimeZone,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}
	if res.Country == "" {
		res.Country = res.CountryCode
	}
	if len(record.Subdivisions) > 0 {
		res.Region = record.Subdivisions[0].Names["en"]
	}
	return res, !res.Empty()
}
