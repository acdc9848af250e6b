package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []CharacterInfo {
	return []CharacterInfo{
		{ID: 1001, Name: "Alpha", Rarity: Tier6, Profession: ProfessionWarrior, SubProfessionID: "centurion"},
		{ID: 1002, Name: "Bravo", Rarity: Tier6, Profession: ProfessionWarrior, SubProfessionID: "sword"},
		{ID: 2001, Name: "Charlie", Rarity: Tier6, Profession: ProfessionCaster, SubProfessionID: "aoedamage"},
		{ID: 3001, Name: "Delta", Rarity: Tier6, Profession: ProfessionPioneer, SubProfessionID: "pioneer"},
	}
}

func TestPoolAll(t *testing.T) {
	expr := PoolExpr{Type: PoolAll}
	pool := expr.GeneratePool(testCatalog())
	assert.ElementsMatch(t, []int32{1001, 1002, 2001, 3001}, pool)
}

func TestPoolCustomDropsUnknownIDs(t *testing.T) {
	expr := PoolExpr{Type: PoolCustom, Params: &PoolExprParams{
		OperatorIDs: []int32{1001, 9999, 2001},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.Equal(t, []int32{1001, 2001}, pool)
}

func TestPoolByProfession(t *testing.T) {
	expr := PoolExpr{Type: PoolByProfession, Params: &PoolExprParams{
		Professions: []Profession{ProfessionWarrior},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.ElementsMatch(t, []int32{1001, 1002}, pool)
}

func TestPoolFilterConjunctive(t *testing.T) {
	expr := PoolExpr{Type: PoolFilter, Params: &PoolExprParams{
		Rarities:    []RarityRank{Tier6},
		Professions: []Profession{ProfessionWarrior},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.ElementsMatch(t, []int32{1001, 1002}, pool)
}

func TestPoolFilterExcludeAndInclude(t *testing.T) {
	expr := PoolExpr{Type: PoolFilter, Params: &PoolExprParams{
		Professions: []Profession{ProfessionWarrior},
		ExcludeIDs:  []int32{1002},
		IncludeIDs:  []int32{3001, 1001, 8888},
	}}
	pool := expr.GeneratePool(testCatalog())
	// 1002 removed; 3001 force-added; 1001 already present; 8888 unknown.
	assert.ElementsMatch(t, []int32{1001, 3001}, pool)
}

func TestPoolFilterRarityRange(t *testing.T) {
	catalog := append(testCatalog(), CharacterInfo{
		ID: 4001, Name: "Echo", Rarity: Tier3, Profession: ProfessionSniper, SubProfessionID: "fastshot",
	})
	min, max := Tier4, Tier6
	expr := PoolExpr{Type: PoolFilter, Params: &PoolExprParams{
		MinRarity: &min,
		MaxRarity: &max,
	}}
	pool := expr.GeneratePool(catalog)
	assert.NotContains(t, pool, int32(4001))
	assert.Len(t, pool, 4)
}

func TestPoolUnion(t *testing.T) {
	expr := PoolExpr{Type: PoolUnion, Params: &PoolExprParams{
		Presets: []PoolExpr{
			{Type: PoolByRarity, Params: &PoolExprParams{Rarities: []RarityRank{Tier6}}},
			{Type: PoolCustom, Params: &PoolExprParams{OperatorIDs: []int32{3001}}},
		},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.Len(t, pool, 4)
}

func TestPoolIntersection(t *testing.T) {
	expr := PoolExpr{Type: PoolIntersection, Params: &PoolExprParams{
		Presets: []PoolExpr{
			{Type: PoolByRarity, Params: &PoolExprParams{Rarities: []RarityRank{Tier6}}},
			{Type: PoolByProfession, Params: &PoolExprParams{Professions: []Profession{ProfessionWarrior}}},
		},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.ElementsMatch(t, []int32{1001, 1002}, pool)
}

func TestPoolIntersectionEmptyPresets(t *testing.T) {
	expr := PoolExpr{Type: PoolIntersection, Params: &PoolExprParams{}}
	assert.Empty(t, expr.GeneratePool(testCatalog()))
}

func TestPoolDifference(t *testing.T) {
	expr := PoolExpr{Type: PoolDifference, Params: &PoolExprParams{
		Base:    &PoolExpr{Type: PoolAll},
		Exclude: &PoolExpr{Type: PoolByProfession, Params: &PoolExprParams{Professions: []Profession{ProfessionWarrior}}},
	}}
	pool := expr.GeneratePool(testCatalog())
	assert.ElementsMatch(t, []int32{2001, 3001}, pool)
}

func TestPoolExprJSONRoundTrip(t *testing.T) {
	raw := `{"type":"filter","params":{"rarities":["TIER_6"],"professions":["WARRIOR"],"exclude_ids":[1002]}}`
	var expr PoolExpr
	require.NoError(t, json.Unmarshal([]byte(raw), &expr))
	assert.Equal(t, PoolFilter, expr.Type)
	pool := expr.GeneratePool(testCatalog())
	assert.Equal(t, []int32{1001}, pool)
}
