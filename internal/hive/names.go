package hive

import (
	"fmt"
	"math/rand"
)

// Word lists for generated agent names. Two short words keep names readable
// in logs and message headers; collisions are tolerated because agents are
// keyed by (project_key, name) and re-registration is an upsert.
var nameAdjectives = []string{
	"Amber", "Azure", "Bold", "Brave", "Bright", "Calm", "Clever", "Coral",
	"Crimson", "Eager", "Fleet", "Gentle", "Golden", "Green", "Happy", "Iron",
	"Jade", "Keen", "Lively", "Lunar", "Mellow", "Noble", "Opal", "Polar",
	"Quick", "Quiet", "Rapid", "Ruby", "Silent", "Silver", "Solar", "Swift",
	"Tidal", "Vivid", "Wild", "Witty",
}

var nameNouns = []string{
	"Badger", "Beacon", "Brook", "Canyon", "Cedar", "Comet", "Crane", "Delta",
	"Falcon", "Fern", "Finch", "Fox", "Glacier", "Harbor", "Hawk", "Heron",
	"Lake", "Lark", "Maple", "Meadow", "Otter", "Owl", "Pine", "Raven",
	"Reef", "River", "Sparrow", "Spruce", "Stone", "Summit", "Swan", "Thicket",
	"Tiger", "Trail", "Willow", "Wren",
}

// generateAgentName returns a fresh AdjectiveNoun name, e.g. "BlueLake".
func generateAgentName(rng *rand.Rand) string {
	adjective := nameAdjectives[rng.Intn(len(nameAdjectives))]
	noun := nameNouns[rng.Intn(len(nameNouns))]
	return fmt.Sprintf("%s%s", adjective, noun)
}
