package garden

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MicrosPerCoin = int64(1_000_000)

	StarterBalanceMicros = int64(250) * MicrosPerCoin
	PlantCostMicros      = int64(100) * MicrosPerCoin
	ResourcePriceMicros  = int64(25) * MicrosPerCoin

	DefaultPlantCapacity = 50
	CapacityIncrement    = 50
)

// Error kinds. Every error returned by Service wraps exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("authorization denied")
	ErrPolicyViolation = errors.New("policy violation")
	ErrTxConflict      = errors.New("transaction conflict, please retry")
)

var (
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	ErrPlantNotFound   = fmt.Errorf("plant %w", ErrNotFound)

	ErrInsufficientFunds      = policy("insufficient funds")
	ErrBalanceOverflow        = policy("balance would exceed the maximum")
	ErrInsufficientWater      = policy("insufficient water")
	ErrInsufficientFertilizer = policy("insufficient fertilizer")
	ErrCapacityExceeded       = policy("plant capacity reached")
	ErrFullyGrown             = policy("plant is fully grown")
	ErrAlreadyGrowing         = policy("plant is already growing")
	ErrNotGrowing             = policy("plant is not growing")
	ErrDuplicateAccount       = policy("account already exists")
	ErrDuplicateName          = policy("display name already taken")
	ErrInvalidPlantType       = policy("plant type must be one of flower, tree, herb, vegetable")
	ErrInvalidRarity          = policy("rarity must be 0, 1 or 2")
	ErrInvalidStage           = policy("stage must be 0, 1 or 2")
	ErrInvalidResource        = policy("resource must be water or fertilizer")
	ErrInvalidPosition        = policy("position requires both x and y")
	ErrInvalidElapsed         = policy("elapsed time must be > 0")
	ErrInvalidDisplayName     = policy("display name must be 3-32 letters, digits, spaces, '_' or '-'")
	ErrInvalidAccountID       = policy("account id is required")
)

func policy(reason string) error {
	return fmt.Errorf("%w: %s", ErrPolicyViolation, reason)
}

// IsDuplicate reports whether err is a uniqueness failure on account id or name.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateAccount) || errors.Is(err, ErrDuplicateName)
}

type PlantType string

const (
	PlantFlower    PlantType = "flower"
	PlantTree      PlantType = "tree"
	PlantHerb      PlantType = "herb"
	PlantVegetable PlantType = "vegetable"
)

var PlantTypes = []PlantType{PlantFlower, PlantTree, PlantHerb, PlantVegetable}

func ParsePlantType(s string) (PlantType, error) {
	t := PlantType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range PlantTypes {
		if t == known {
			return t, nil
		}
	}
	return "", ErrInvalidPlantType
}

type Rarity int16

const (
	RarityCommon Rarity = iota
	RarityUncommon
	RarityRare
)

func (r Rarity) Valid() bool {
	return r >= RarityCommon && r <= RarityRare
}

func (r Rarity) String() string {
	switch r {
	case RarityCommon:
		return "common"
	case RarityUncommon:
		return "uncommon"
	case RarityRare:
		return "rare"
	default:
		return fmt.Sprintf("rarity(%d)", int16(r))
	}
}

type Stage int16

const (
	StageSeed Stage = iota
	StageSprout
	StageMature
)

func (s Stage) Valid() bool {
	return s >= StageSeed && s <= StageMature
}

func (s Stage) String() string {
	switch s {
	case StageSeed:
		return "seed"
	case StageSprout:
		return "sprout"
	case StageMature:
		return "mature"
	default:
		return fmt.Sprintf("stage(%d)", int16(s))
	}
}

type Resource string

const (
	ResourceWater      Resource = "water"
	ResourceFertilizer Resource = "fertilizer"
)

func ParseResource(s string) (Resource, error) {
	switch Resource(strings.ToLower(strings.TrimSpace(s))) {
	case ResourceWater:
		return ResourceWater, nil
	case ResourceFertilizer:
		return ResourceFertilizer, nil
	default:
		return "", ErrInvalidResource
	}
}

func (r Resource) shortfall() error {
	if r == ResourceFertilizer {
		return ErrInsufficientFertilizer
	}
	return ErrInsufficientWater
}

// column is the accounts table column holding the resource count.
func (r Resource) column() string {
	if r == ResourceFertilizer {
		return "fertilizer"
	}
	return "water"
}

var displayNameRE = regexp.MustCompile(`^[a-zA-Z0-9_\- ]{3,32}$`)

func ValidateDisplayName(name string) error {
	if !displayNameRE.MatchString(strings.TrimSpace(name)) {
		return ErrInvalidDisplayName
	}
	return nil
}

func normalizeAccountID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func CoinsToMicros(v int64) int64 {
	return v * MicrosPerCoin
}

func MicrosToCoins(v int64) float64 {
	return float64(v) / float64(MicrosPerCoin)
}
