// Package worlds carries the static data-center → world tables used for
// validation and cross-world comparisons.
package worlds

import "sort"

// DataCenters maps each data center to its member worlds.
var DataCenters = map[string][]string{
	"Light":     {"Phoenix", "Shiva", "Zodiark", "Twintania", "Alpha", "Raiden"},
	"Chaos":     {"Cerberus", "Louisoix", "Moogle", "Omega", "Ragnarok", "Sagittarius"},
	"Elemental": {"Aegis", "Atomos", "Carbuncle", "Garuda", "Gungnir", "Kujata", "Ramuh", "Tonberry", "Typhon", "Unicorn"},
	"Gaia":      {"Alexander", "Bahamut", "Durandal", "Fenrir", "Ifrit", "Ridill", "Tiamat", "Ultima", "Valefor", "Yojimbo", "Zeromus"},
	"Mana":      {"Anima", "Asura", "Belias", "Chocobo", "Hades", "Ixion", "Mandragora", "Masamune", "Pandaemonium", "Shinryu", "Titan"},
	"Meteor":    {"Balmung", "Brynhildr", "Coeurl", "Diabolos", "Goblin", "Malboro", "Mateus", "Seraph", "Ultros"},
	"Dynamis":   {"Halicarnassus", "Maduin", "Marilith", "Seraph"},
	"Crystal":   {"Balmung", "Brynhildr", "Coeurl", "Diabolos", "Goblin", "Malboro", "Mateus", "Seraph", "Ultros"},
	"Aether":    {"Adamantoise", "Cactuar", "Faerie", "Gilgamesh", "Jenova", "Midgardsormr", "Sargatanas", "Siren"},
	"Primal":    {"Behemoth", "Excalibur", "Exodus", "Famfrit", "Hyperion", "Lamia", "Leviathan", "Ultros"},
	"Materia":   {"Bismarck", "Ravana", "Sephirot", "Sophia", "Zurvan"},
}

// Names returns the data center names, sorted.
func Names() []string {
	names := make([]string, 0, len(DataCenters))
	for dc := range DataCenters {
		names = append(names, dc)
	}
	sort.Strings(names)
	return names
}

// Worlds returns the worlds of one data center, or nil when unknown.
func Worlds(dc string) []string {
	return DataCenters[dc]
}

// All returns every known world, deduplicated and sorted.
func All() []string {
	seen := make(map[string]bool)
	var all []string
	for _, list := range DataCenters {
		for _, w := range list {
			if !seen[w] {
				seen[w] = true
				all = append(all, w)
			}
		}
	}
	sort.Strings(all)
	return all
}

// Known reports whether the world appears in any data center.
func Known(world string) bool {
	for _, list := range DataCenters {
		for _, w := range list {
			if w == world {
				return true
			}
		}
	}
	return false
}
