// Package sde loads static reference data shipped with the service. The
// ship type table lets enrichment resolve hull names without touching
// the upstream API for the common cases.
package sde

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/guarzo/wanderer-kills/pkg/cache"
)

// ShipTypeLoader warms the ship_types cache namespace from a CSV file
// with header type_id,name,group_id.
type ShipTypeLoader struct {
	path  string
	cache *cache.NamespacedCache
	ttl   time.Duration
}

// NewShipTypeLoader creates a loader for the given CSV path.
func NewShipTypeLoader(path string, c *cache.NamespacedCache, ttl time.Duration) *ShipTypeLoader {
	return &ShipTypeLoader{path: path, cache: c, ttl: ttl}
}

// Load parses the CSV and stores every ship type name. It returns the
// number of rows loaded. A missing file is not an error; the cache just
// starts cold.
func (l *ShipTypeLoader) Load() (int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Ship type data file not found, starting cold", "path", l.path)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open ship type data: %w", err)
	}
	defer f.Close()

	n, err := l.loadFrom(f)
	if err != nil {
		return n, err
	}

	slog.Info("Ship types loaded", "path", l.path, "count", n)
	return n, nil
}

func (l *ShipTypeLoader) loadFrom(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read ship type header: %w", err)
	}
	if header[0] != "type_id" || header[1] != "name" || header[2] != "group_id" {
		return 0, fmt.Errorf("unexpected ship type header: %v", header)
	}

	loaded := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return loaded, nil
		}
		if err != nil {
			return loaded, fmt.Errorf("failed to parse ship type data: %w", err)
		}

		typeID, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil || typeID <= 0 || record[1] == "" {
			slog.Warn("Skipping malformed ship type row", "line", line)
			continue
		}

		if err := l.cache.Put(cache.NamespaceShipTypes, record[0], record[1], l.ttl); err != nil {
			return loaded, err
		}
		loaded++
	}
}
