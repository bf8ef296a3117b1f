// Package agent holds the fixed roster of agents tasks can be assigned to.
package agent

import "slices"

type Status string

const (
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusSleeping Status = "sleeping"
)

type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Specialty   string `json:"specialty"`
	Color       string `json:"color"`
	Status      Status `json:"status"`
	AvatarIcon  string `json:"avatarIcon"`
}

const DefaultID = "kami"

var roster = []Agent{
	{
		ID:          "kami",
		Name:        "Kami",
		Role:        "Main Controller",
		Description: "Central orchestration hub managing system-wide identity, mission alignment, and multi-agent coordination.",
		Specialty:   "Daily Tasks & Orchestration",
		Color:       "#00FF99",
		Status:      StatusActive,
		AvatarIcon:  "Crown",
	},
	{
		ID:          "eric",
		Name:        "Eric",
		Role:        "Trading Specialist",
		Description: "Deterministic execution agent monitoring high-frequency price action and executing complex orders with zero emotional variance.",
		Specialty:   "Stocks & Crypto Execution",
		Color:       "#3B82F6",
		Status:      StatusIdle,
		AvatarIcon:  "TrendingUp",
	},
	{
		ID:          "kid",
		Name:        "Kid",
		Role:        "Work Assistant",
		Description: "Productivity specialist focused on logistics, corporate task synchronization, and administrative consistency.",
		Specialty:   "Job Tasks & Productivity",
		Color:       "#F59E0B",
		Status:      StatusActive,
		AvatarIcon:  "Briefcase",
	},
}

func All() []Agent {
	return slices.Clone(roster)
}

func Lookup(id string) (Agent, bool) {
	i := slices.IndexFunc(roster, func(a Agent) bool { return a.ID == id })
	if i < 0 {
		return Agent{}, false
	}
	return roster[i], true
}

func Known(id string) bool {
	_, ok := Lookup(id)
	return ok
}

// Default returns the agent unassigned work falls back to.
func Default() Agent {
	a, _ := Lookup(DefaultID)
	return a
}
