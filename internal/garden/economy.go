package garden

import "math"

// Growth describes what the next stage transition of a plant costs.
type Growth struct {
	Resource Resource `json:"resource"`
	Amount   int64    `json:"amount"`
	Duration int64    `json:"duration"`
}

const seedGrowDuration = int64(30)

var sproutGrowth = map[Rarity]Growth{
	RarityCommon:   {Resource: ResourceFertilizer, Amount: 1, Duration: 60},
	RarityUncommon: {Resource: ResourceFertilizer, Amount: 2, Duration: 120},
	RarityRare:     {Resource: ResourceFertilizer, Amount: 5, Duration: 360},
}

// payoutCoins is indexed by [stage][rarity].
var payoutCoins = [3][3]int64{
	{0, 0, 0},
	{50, 100, 250},
	{100, 200, 500},
}

// NextGrowth returns the requirement for moving a plant out of stage.
func NextGrowth(stage Stage, rarity Rarity) (Growth, error) {
	if !rarity.Valid() {
		return Growth{}, ErrInvalidRarity
	}
	switch stage {
	case StageSeed:
		return Growth{Resource: ResourceWater, Amount: 1, Duration: seedGrowDuration}, nil
	case StageSprout:
		return sproutGrowth[rarity], nil
	case StageMature:
		return Growth{}, ErrFullyGrown
	default:
		return Growth{}, ErrInvalidStage
	}
}

// SalePayoutMicros is what selling a plant at stage with rarity credits.
func SalePayoutMicros(stage Stage, rarity Rarity) (int64, error) {
	if !stage.Valid() {
		return 0, ErrInvalidStage
	}
	if !rarity.Valid() {
		return 0, ErrInvalidRarity
	}
	return payoutCoins[stage][rarity] * MicrosPerCoin, nil
}

// RollRarity maps a uniform draw in [0,1) onto the 79/20/1 rarity split.
func RollRarity(v float64) Rarity {
	switch {
	case v < 0.79:
		return RarityCommon
	case v < 0.99:
		return RarityUncommon
	default:
		return RarityRare
	}
}

// UpgradesPurchased derives how many capacity upgrades produced capacity.
func UpgradesPurchased(capacity int) int {
	if capacity <= DefaultPlantCapacity {
		return 0
	}
	return (capacity - DefaultPlantCapacity) / CapacityIncrement
}

// CapacityUpgradeCostMicros is round(1000 * 1.1^k) to the nearest 100 coins.
// Tiers whose price does not fit in int64 micros cost math.MaxInt64.
func CapacityUpgradeCostMicros(upgrades int) int64 {
	if upgrades < 0 {
		upgrades = 0
	}
	raw := 1000 * math.Pow(1.1, float64(upgrades))
	coins := math.Round(raw/100) * 100
	if coins >= float64(math.MaxInt64/MicrosPerCoin) {
		return math.MaxInt64
	}
	return int64(coins) * MicrosPerCoin
}

var speciesTable = map[PlantType][3][]string{
	PlantFlower: {
		{"Daisy", "Tulip", "Marigold", "Sunflower"},
		{"Orchid", "Peony", "Lotus"},
		{"Ghost Orchid", "Black Rose"},
	},
	PlantTree: {
		{"Oak", "Birch", "Maple", "Pine"},
		{"Cherry Blossom", "Willow", "Ginkgo"},
		{"Baobab", "Dragon Blood Tree"},
	},
	PlantHerb: {
		{"Basil", "Mint", "Parsley", "Thyme"},
		{"Lavender", "Sage", "Rosemary"},
		{"Saffron Crocus", "Ginseng"},
	},
	PlantVegetable: {
		{"Carrot", "Potato", "Lettuce", "Onion"},
		{"Pumpkin", "Eggplant", "Artichoke"},
		{"Golden Tomato", "Purple Asparagus"},
	},
}

// Species lists the species a plant of type t and rarity r can become.
func Species(t PlantType, r Rarity) []string {
	if !r.Valid() {
		return nil
	}
	names, ok := speciesTable[t]
	if !ok {
		return nil
	}
	return names[r]
}
