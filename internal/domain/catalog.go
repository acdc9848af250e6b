package domain

// RarityRank is the serialized tier of an operator.
type RarityRank string

const (
	Tier1 RarityRank = "TIER_1"
	Tier2 RarityRank = "TIER_2"
	Tier3 RarityRank = "TIER_3"
	Tier4 RarityRank = "TIER_4"
	Tier5 RarityRank = "TIER_5"
	Tier6 RarityRank = "TIER_6"
	ENum  RarityRank = "E_NUM"
)

// Rank orders rarities for range filters. Unknown values rank lowest.
func (r RarityRank) Rank() int {
	switch r {
	case Tier1:
		return 1
	case Tier2:
		return 2
	case Tier3:
		return 3
	case Tier4:
		return 4
	case Tier5:
		return 5
	case Tier6:
		return 6
	case ENum:
		return 7
	}
	return 0
}

// Profession is an operator's class.
type Profession string

const (
	ProfessionNone    Profession = "NONE"
	ProfessionWarrior Profession = "WARRIOR"
	ProfessionSniper  Profession = "SNIPER"
	ProfessionTank    Profession = "TANK"
	ProfessionMedic   Profession = "MEDIC"
	ProfessionSupport Profession = "SUPPORT"
	ProfessionCaster  Profession = "CASTER"
	ProfessionSpecial Profession = "SPECIAL"
	ProfessionToken   Profession = "TOKEN"
	ProfessionTrap    Profession = "TRAP"
	ProfessionPioneer Profession = "PIONEER"
)

// CharacterData is one raw character table entry.
type CharacterData struct {
	Name            string     `json:"name"`
	Rarity          RarityRank `json:"rarity"`
	Profession      Profession `json:"profession"`
	SubProfessionID string     `json:"subProfessionId"`
	IsNotObtainable bool       `json:"isNotObtainable"`
}

// CharacterInfo is a catalog entry keyed by the numeric operator id.
type CharacterInfo struct {
	ID              int32
	Name            string
	Rarity          RarityRank
	Profession      Profession
	SubProfessionID string
	IsNotObtainable bool
}

// CharacterPortrait is the public view of a pool member.
type CharacterPortrait struct {
	ID         int32      `json:"id"`
	Name       string     `json:"name"`
	Rarity     RarityRank `json:"rarity"`
	Profession Profession `json:"profession"`
}

func (c *CharacterInfo) matchesRarities(rarities []RarityRank) bool {
	for _, r := range rarities {
		if c.Rarity == r {
			return true
		}
	}
	return false
}

func (c *CharacterInfo) matchesProfessions(professions []Profession) bool {
	for _, p := range professions {
		if c.Profession == p {
			return true
		}
	}
	return false
}

func (c *CharacterInfo) matchesSubProfessions(subs []string) bool {
	for _, s := range subs {
		if c.SubProfessionID == s {
			return true
		}
	}
	return false
}

func (c *CharacterInfo) rarityInRange(min, max *RarityRank) bool {
	if min != nil && c.Rarity.Rank() < min.Rank() {
		return false
	}
	if max != nil && c.Rarity.Rank() > max.Rank() {
		return false
	}
	return true
}
