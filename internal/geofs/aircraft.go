package geofs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/patrickmn/go-cache"
)

// UnknownAircraftType is returned for codes missing from the reference
// table. New aircraft ship faster than the table updates.
const UnknownAircraftType = "Unknown"

// AircraftTable maps numeric aircraft codes to human-readable names.
// Loaded once at startup; entries never expire.
type AircraftTable struct {
	names *cache.Cache
}

type aircraftEntry struct {
	Name string `json:"name"`
}

// LoadAircraftTable reads the code-to-name reference file.
func LoadAircraftTable(path string) (*AircraftTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aircraft codes: %w", err)
	}

	var entries map[string]aircraftEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse aircraft codes: %w", err)
	}

	t := &AircraftTable{names: cache.New(cache.NoExpiration, 0)}
	for code, entry := range entries {
		t.names.Set(code, entry.Name, cache.NoExpiration)
	}
	return t, nil
}

// Name resolves an aircraft code, falling back to UnknownAircraftType.
func (t *AircraftTable) Name(code string) string {
	if v, found := t.names.Get(code); found {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return UnknownAircraftType
}

// Len reports how many codes are loaded, for startup logging.
func (t *AircraftTable) Len() int {
	return t.names.ItemCount()
}
