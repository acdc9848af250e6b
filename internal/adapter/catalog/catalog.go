// Package catalog loads the operator roster from the character table
// file. Keys look like "char_1001_amiya"; the numeric segment is the
// operator id the rest of the system keys on.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

const charKeyPrefix = "char_"

// Load reads the character table and returns the catalog sorted by id.
// Non-character entries (tokens, traps, npc records) are skipped.
func Load(path string) ([]domain.CharacterInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.Load: %w", err)
	}
	return Parse(raw)
}

// Parse decodes the raw character table contents.
func Parse(raw []byte) ([]domain.CharacterInfo, error) {
	var table map[string]domain.CharacterData
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("op=catalog.Parse: %w", err)
	}

	catalog := make([]domain.CharacterInfo, 0, len(table))
	for key, data := range table {
		id, ok := parseCharID(key)
		if !ok {
			continue
		}
		catalog = append(catalog, domain.CharacterInfo{
			ID:              id,
			Name:            data.Name,
			Rarity:          data.Rarity,
			Profession:      data.Profession,
			SubProfessionID: data.SubProfessionID,
			IsNotObtainable: data.IsNotObtainable,
		})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].ID < catalog[j].ID })
	return catalog, nil
}

// parseCharID extracts the numeric id from keys like "char_1001_amiya".
func parseCharID(key string) (int32, bool) {
	if !strings.HasPrefix(key, charKeyPrefix) {
		return 0, false
	}
	rest := key[len(charKeyPrefix):]
	numeric, _, found := strings.Cut(rest, "_")
	if !found {
		numeric = rest
	}
	id, err := strconv.ParseInt(numeric, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(id), true
}
