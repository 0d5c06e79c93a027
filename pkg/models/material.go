package models

// Material is one entry from the materials database summary endpoint.
type Material struct {
	MaterialID             string  `json:"material_id"`
	Formula                string  `json:"formula_pretty"`
	BandGap                float64 `json:"band_gap"`
	FormationEnergyPerAtom float64 `json:"formation_energy_per_atom"`
	EnergyAboveHull        float64 `json:"energy_above_hull"`
	IsStable               bool    `json:"is_stable"`
}
