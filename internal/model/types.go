package model

import "time"

type PriorityGroup string

const (
	GroupLow    PriorityGroup = "low"
	GroupMedium PriorityGroup = "medium"
	GroupHigh   PriorityGroup = "high"
)

func (g PriorityGroup) Valid() bool {
	switch g {
	case GroupLow, GroupMedium, GroupHigh:
		return true
	}
	return false
}

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Rule holds the price thresholds for one curtailment rule. Invariant
// enforced at create/update time: floor < soft ceiling <= hard ceiling.
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	HardCeilingPrice float64         `json:"hard_ceiling_price"`
	SoftCeilingPrice float64         `json:"soft_ceiling_price"`
	FloorPrice       float64         `json:"floor_price"`
	AffectedGroups   []PriorityGroup `json:"affected_priority_groups"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (r Rule) AppliesTo(g PriorityGroup) bool {
	for _, ag := range r.AffectedGroups {
		if ag == g {
			return true
		}
	}
	return false
}

type Device struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	PriorityGroup PriorityGroup `json:"priority_group"`
	Status        DeviceStatus  `json:"current_status"`
	CurrentLoadKW float64       `json:"current_load_kw"`
}

// MarketSnapshot is a point-in-time view of the power market, fetched
// fresh on every evaluation.
type MarketSnapshot struct {
	Timestamp            time.Time `json:"timestamp"`
	CurrentPrice         float64   `json:"current_price"`
	PredictedPrice1H     float64   `json:"predicted_price_1h"`
	PredictedPrice6H     float64   `json:"predicted_price_6h"`
	GridStressScore      float64   `json:"grid_stress_score"`
	ReserveMarginPercent float64   `json:"reserve_margin_percent"`
}

type GridStressLevel string

const (
	StressNormal   GridStressLevel = "normal"
	StressElevated GridStressLevel = "elevated"
	StressHigh     GridStressLevel = "high"
	StressCritical GridStressLevel = "critical"
)

// Rank orders stress levels: normal < elevated < high < critical.
func (l GridStressLevel) Rank() int {
	switch l {
	case StressElevated:
		return 1
	case StressHigh:
		return 2
	case StressCritical:
		return 3
	}
	return 0
}

type DecisionType string

const (
	DecisionContinue        DecisionType = "continue"
	DecisionPrepareShutdown DecisionType = "prepare_shutdown"
	DecisionShutdown        DecisionType = "shutdown"
	DecisionResume          DecisionType = "resume"
)

// Precedence orders decision outcomes when several rules match:
// shutdown > prepare_shutdown > resume > continue.
func (d DecisionType) Precedence() int {
	switch d {
	case DecisionShutdown:
		return 3
	case DecisionPrepareShutdown:
		return 2
	case DecisionResume:
		return 1
	}
	return 0
}

type Decision struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	CurrentPrice     float64         `json:"current_price"`
	PredictedPrice1H float64         `json:"predicted_price_1h"`
	PredictedPrice6H float64         `json:"predicted_price_6h"`
	GridStressLevel  GridStressLevel `json:"grid_stress_level"`
	Action           DecisionType    `json:"decision"`
	AffectedGroups   []PriorityGroup `json:"affected_priority_groups"`
	Reason           string          `json:"reason"`
	ConfidenceScore  float64         `json:"confidence_score"`
	EstimatedSavings float64         `json:"estimated_savings"`
}

type AlertType string

const (
	AlertCeilingWarning AlertType = "ceiling_warning"
	AlertCeilingBreach  AlertType = "ceiling_breach"
	AlertFloorBreach    AlertType = "floor_breach"
	AlertGridStress     AlertType = "grid_stress"
)

type PriceDirection string

const (
	PriceRising  PriceDirection = "rising"
	PriceFalling PriceDirection = "falling"
	PriceStable  PriceDirection = "stable"
)

type Alert struct {
	Timestamp       time.Time       `json:"timestamp"`
	Type            AlertType       `json:"type"`
	CurrentPrice    float64         `json:"current_price"`
	ThresholdPrice  float64         `json:"threshold_price"`
	PriceDirection  PriceDirection  `json:"price_direction"`
	GridStressLevel GridStressLevel `json:"grid_stress_level"`
	RuleID          string          `json:"rule_id,omitempty"`
	Active          bool            `json:"active"`
}

type ActionType string

const (
	ActionShutdown ActionType = "shutdown"
	ActionResume   ActionType = "resume"
)

// AutomationLogEntry is the append-only record of an executed
// shutdown or resume, used only for analytics.
type AutomationLogEntry struct {
	Timestamp        time.Time  `json:"timestamp"`
	ActionType       ActionType `json:"action_type"`
	TriggerPrice     float64    `json:"trigger_price"`
	DurationSeconds  float64    `json:"duration_seconds"`
	EstimatedSavings float64    `json:"estimated_savings"`
}

type CommandStatus string

const (
	CommandSent    CommandStatus = "sent"
	CommandSkipped CommandStatus = "skipped"
	CommandFailed  CommandStatus = "failed"
)

type DeviceCommandResult struct {
	DeviceID    string        `json:"device_id"`
	TargetState DeviceStatus  `json:"target_state"`
	Status      CommandStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
}

type ExecutionResult struct {
	DecisionID string                `json:"decision_id,omitempty"`
	Action     DecisionType          `json:"decision"`
	Timestamp  time.Time             `json:"timestamp"`
	Commands   []DeviceCommandResult `json:"commands"`
	Sent       int                   `json:"sent"`
	Skipped    int                   `json:"skipped"`
	Failed     int                   `json:"failed"`
}

type OptimizePriority string

const (
	PriorityCost     OptimizePriority = "cost"
	PriorityCarbon   OptimizePriority = "carbon"
	PriorityBalanced OptimizePriority = "balanced"
)

type OptimizeParams struct {
	DemandMW               float64          `json:"demand_mw"`
	OperatingHours         float64          `json:"operating_hours"`
	FlexibilityWindowHours int              `json:"flexibility_window_hours"`
	DemandChargeRate       float64          `json:"demand_charge_rate"`
	TransmissionRate       float64          `json:"transmission_rate"`
	CarbonPrice            float64          `json:"carbon_price"`
	CarbonIntensity        float64          `json:"carbon_intensity"`
	Priority               OptimizePriority `json:"priority"`
}

type ScheduleSlot struct {
	Hour                int     `json:"hour"`
	EnergyPrice         float64 `json:"energy_price"`
	EnergyCost          float64 `json:"energy_cost"`
	DemandCharge        float64 `json:"demand_charge"`
	TransmissionCost    float64 `json:"transmission_cost"`
	CarbonCost          float64 `json:"carbon_cost"`
	TotalCost           float64 `json:"total_cost"`
	CarbonEmissions     float64 `json:"carbon_emissions"`
	RecommendationScore float64 `json:"recommendation_score"`
	IsOptimal           bool    `json:"is_optimal"`
}

type OptimizationResult struct {
	Slots           []ScheduleSlot   `json:"slots"`
	OptimalHours    []int            `json:"optimal_hours"`
	WorstHours      []int            `json:"worst_hours"`
	OptimalMeanCost float64          `json:"optimal_mean_cost"`
	WorstMeanCost   float64          `json:"worst_mean_cost"`
	Savings         float64          `json:"savings"`
	SavingsPercent  float64          `json:"savings_percent"`
	Priority        OptimizePriority `json:"priority"`
}

type AnalyticsSummary struct {
	TotalShutdowns        int     `json:"total_shutdowns"`
	TotalResumes          int     `json:"total_resumes"`
	TotalSavings          float64 `json:"total_savings"`
	TotalCurtailmentHours float64 `json:"total_curtailment_hours"`
	AveragePriceAvoided   float64 `json:"average_price_avoided"`
}

type AnalyticsReport struct {
	AnalyticsSummary
	PeriodDays   int                  `json:"period_days"`
	RecentLogs   []AutomationLogEntry `json:"recent_logs"`
	ActiveAlerts []Alert              `json:"active_alerts"`
}
