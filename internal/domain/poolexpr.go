package domain

// PoolExprType discriminates the candidate pool expression variants.
type PoolExprType string

const (
	PoolAll             PoolExprType = "all"
	PoolCustom          PoolExprType = "custom"
	PoolByRarity        PoolExprType = "by_rarity"
	PoolByProfession    PoolExprType = "by_profession"
	PoolBySubProfession PoolExprType = "by_sub_profession"
	PoolFilter          PoolExprType = "filter"
	PoolUnion           PoolExprType = "union"
	PoolIntersection    PoolExprType = "intersection"
	PoolDifference      PoolExprType = "difference"
)

// PoolExpr is an externally tagged expression describing a candidate
// pool over the character catalog. The "type" field selects the variant
// and "params" carries the fields that variant uses.
type PoolExpr struct {
	Type   PoolExprType    `json:"type" bson:"type"`
	Params *PoolExprParams `json:"params,omitempty" bson:"params,omitempty"`
}

// PoolExprParams is the parameter envelope shared by all variants.
type PoolExprParams struct {
	OperatorIDs    []int32      `json:"operator_ids,omitempty" bson:"operator_ids,omitempty"`
	Rarities       []RarityRank `json:"rarities,omitempty" bson:"rarities,omitempty"`
	Professions    []Profession `json:"professions,omitempty" bson:"professions,omitempty"`
	SubProfessions []string     `json:"sub_professions,omitempty" bson:"sub_professions,omitempty"`
	ExcludeIDs     []int32      `json:"exclude_ids,omitempty" bson:"exclude_ids,omitempty"`
	IncludeIDs     []int32      `json:"include_ids,omitempty" bson:"include_ids,omitempty"`
	MinRarity      *RarityRank  `json:"min_rarity,omitempty" bson:"min_rarity,omitempty"`
	MaxRarity      *RarityRank  `json:"max_rarity,omitempty" bson:"max_rarity,omitempty"`
	Presets        []PoolExpr   `json:"presets,omitempty" bson:"presets,omitempty"`
	Base           *PoolExpr    `json:"base,omitempty" bson:"base,omitempty"`
	Exclude        *PoolExpr    `json:"exclude,omitempty" bson:"exclude,omitempty"`
}

func (p *PoolExpr) params() *PoolExprParams {
	if p.Params == nil {
		return &PoolExprParams{}
	}
	return p.Params
}

// GeneratePool materializes the expression against the catalog.
// Custom ids not present in the catalog are dropped; set operations
// return results in unspecified order.
func (p *PoolExpr) GeneratePool(catalog []CharacterInfo) []int32 {
	params := p.params()

	switch p.Type {
	case PoolAll:
		out := make([]int32, 0, len(catalog))
		for i := range catalog {
			out = append(out, catalog[i].ID)
		}
		return out

	case PoolCustom:
		valid := make(map[int32]struct{}, len(catalog))
		for i := range catalog {
			valid[catalog[i].ID] = struct{}{}
		}
		out := make([]int32, 0, len(params.OperatorIDs))
		for _, id := range params.OperatorIDs {
			if _, ok := valid[id]; ok {
				out = append(out, id)
			}
		}
		return out

	case PoolByRarity:
		var out []int32
		for i := range catalog {
			if catalog[i].matchesRarities(params.Rarities) {
				out = append(out, catalog[i].ID)
			}
		}
		return out

	case PoolByProfession:
		var out []int32
		for i := range catalog {
			if catalog[i].matchesProfessions(params.Professions) {
				out = append(out, catalog[i].ID)
			}
		}
		return out

	case PoolBySubProfession:
		var out []int32
		for i := range catalog {
			if catalog[i].matchesSubProfessions(params.SubProfessions) {
				out = append(out, catalog[i].ID)
			}
		}
		return out

	case PoolFilter:
		return params.filterPool(catalog)

	case PoolUnion:
		set := make(map[int32]struct{})
		for i := range params.Presets {
			for _, id := range params.Presets[i].GeneratePool(catalog) {
				set[id] = struct{}{}
			}
		}
		return setToSlice(set)

	case PoolIntersection:
		if len(params.Presets) == 0 {
			return nil
		}
		set := make(map[int32]struct{})
		for _, id := range params.Presets[0].GeneratePool(catalog) {
			set[id] = struct{}{}
		}
		for i := 1; i < len(params.Presets); i++ {
			next := make(map[int32]struct{})
			for _, id := range params.Presets[i].GeneratePool(catalog) {
				if _, ok := set[id]; ok {
					next[id] = struct{}{}
				}
			}
			set = next
		}
		return setToSlice(set)

	case PoolDifference:
		if params.Base == nil {
			return nil
		}
		excluded := make(map[int32]struct{})
		if params.Exclude != nil {
			for _, id := range params.Exclude.GeneratePool(catalog) {
				excluded[id] = struct{}{}
			}
		}
		var out []int32
		seen := make(map[int32]struct{})
		for _, id := range params.Base.GeneratePool(catalog) {
			if _, ok := excluded[id]; ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return out
	}

	return nil
}

// filterPool applies the conjunctive predicates, then exclusions, then
// forced inclusions. Forced ids are appended without re-filtering as
// long as they exist in the catalog.
func (f *PoolExprParams) filterPool(catalog []CharacterInfo) []int32 {
	var filtered []int32
	for i := range catalog {
		c := &catalog[i]
		if len(f.Rarities) > 0 && !c.matchesRarities(f.Rarities) {
			continue
		}
		if len(f.Professions) > 0 && !c.matchesProfessions(f.Professions) {
			continue
		}
		if len(f.SubProfessions) > 0 && !c.matchesSubProfessions(f.SubProfessions) {
			continue
		}
		if !c.rarityInRange(f.MinRarity, f.MaxRarity) {
			continue
		}
		filtered = append(filtered, c.ID)
	}

	if len(f.ExcludeIDs) > 0 {
		exclude := make(map[int32]struct{}, len(f.ExcludeIDs))
		for _, id := range f.ExcludeIDs {
			exclude[id] = struct{}{}
		}
		kept := filtered[:0]
		for _, id := range filtered {
			if _, ok := exclude[id]; !ok {
				kept = append(kept, id)
			}
		}
		filtered = kept
	}

	if len(f.IncludeIDs) > 0 {
		valid := make(map[int32]struct{}, len(catalog))
		for i := range catalog {
			valid[catalog[i].ID] = struct{}{}
		}
		present := make(map[int32]struct{}, len(filtered))
		for _, id := range filtered {
			present[id] = struct{}{}
		}
		for _, id := range f.IncludeIDs {
			_, known := valid[id]
			_, already := present[id]
			if known && !already {
				filtered = append(filtered, id)
			}
		}
	}

	return filtered
}

func setToSlice(set map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
