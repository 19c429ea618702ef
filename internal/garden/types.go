package garden

import "time"

type Account struct {
	ID                    string    `json:"id"`
	DisplayName           string    `json:"display_name"`
	BalanceMicros         int64     `json:"balance_micros"`
	Water                 int64     `json:"water"`
	Fertilizer            int64     `json:"fertilizer"`
	PlantCapacity         int       `json:"plant_capacity"`
	PlantCount            int       `json:"plant_count"`
	NextUpgradeCostMicros int64     `json:"next_upgrade_cost_micros"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (a Account) resource(r Resource) int64 {
	if r == ResourceFertilizer {
		return a.Fertilizer
	}
	return a.Water
}

type Position struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type Plant struct {
	ID                  int64     `json:"id"`
	AccountID           string    `json:"account_id"`
	Type                PlantType `json:"plant_type"`
	Species             string    `json:"species"`
	Rarity              Rarity    `json:"rarity"`
	Stage               Stage     `json:"stage"`
	RemainingGrowthTime *int64    `json:"remaining_growth_time"`
	Position            *Position `json:"position"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type CreateAccountInput struct {
	ActorID     string
	AccountID   string
	DisplayName string
}

type RenameAccountInput struct {
	ActorID     string
	AccountID   string
	DisplayName string
}

type AdjustBalanceInput struct {
	ActorID     string
	AccountID   string
	DeltaMicros int64
}

type AdjustResourceInput struct {
	ActorID   string
	AccountID string
	Resource  Resource
	Delta     int64
}

type PurchaseResourceInput struct {
	ActorID   string
	AccountID string
	Resource  Resource
}

type CreatePlantInput struct {
	ActorID   string
	AccountID string
	Type      string
	Position  *Position
}

// AccountRef names a target account together with the identity acting on it.
type AccountRef struct {
	ActorID   string
	AccountID string
}

type PlantRef struct {
	AccountRef
	PlantID int64
}

type TickInput struct {
	PlantRef
	Elapsed int64
}

type MoveInput struct {
	PlantRef
	Position *Position
}

type BalanceResult struct {
	AccountID     string `json:"account_id"`
	BalanceMicros int64  `json:"balance_micros"`
}

type ResourceResult struct {
	AccountID     string   `json:"account_id"`
	Resource      Resource `json:"resource"`
	Amount        int64    `json:"amount"`
	BalanceMicros int64    `json:"balance_micros"`
	PriceMicros   int64    `json:"price_micros,omitempty"`
}

type LedgerEntry struct {
	ID                 int64          `json:"id"`
	TxGroupID          string         `json:"tx_group_id"`
	Action             string         `json:"action"`
	BalanceDeltaMicros int64          `json:"balance_delta_micros"`
	WaterDelta         int64          `json:"water_delta"`
	FertilizerDelta    int64          `json:"fertilizer_delta"`
	PlantID            *int64         `json:"plant_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

type CreatePlantResult struct {
	Plant         Plant `json:"plant"`
	CostMicros    int64 `json:"cost_micros"`
	BalanceMicros int64 `json:"balance_micros"`
}

// StartGrowingResult carries the account's stock of the consumed resource
// after the charge in Remaining.
type StartGrowingResult struct {
	Plant     Plant  `json:"plant"`
	Consumed  Growth `json:"consumed"`
	Remaining int64  `json:"remaining"`
}

type TickResult struct {
	Plant         Plant `json:"plant"`
	StageAdvanced bool  `json:"stage_advanced"`
}

type SellResult struct {
	PlantID       int64 `json:"plant_id"`
	PayoutMicros  int64 `json:"payout_micros"`
	BalanceMicros int64 `json:"balance_micros"`
}

type CapacityResult struct {
	AccountID         string `json:"account_id"`
	CostMicros        int64  `json:"cost_micros"`
	NextCostMicros    int64  `json:"next_cost_micros"`
	PlantCapacity     int    `json:"plant_capacity"`
	BalanceMicros     int64  `json:"balance_micros"`
	UpgradesPurchased int    `json:"upgrades_purchased"`
}
