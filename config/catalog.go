package config

import "github.com/aluiziolira/go-poultry-prices/models"

// DefaultSources lists the AJ_PY018 national broiler parts report on the AMS
// host and its datamart mirror, in priority order.
func DefaultSources() []string {
	return []string{
		"https://www.ams.usda.gov/mnreports/aj_py018.txt",
		"https://www.ams.usda.gov/mnreports/AJ_PY018.txt",
		"https://mpr.datamart.ams.usda.gov/mnreports/aj_py018.txt",
		"https://mpr.datamart.ams.usda.gov/mnreports/AJ_PY018.txt",
	}
}

// DefaultCatalog is the broiler parts catalog, in display order. Patterns are
// matched against upper-cased report lines.
func DefaultCatalog() []models.Product {
	return []models.Product{
		{Name: "Breast - B/S", Label: "Pechuga sin hueso (B/S)", Patterns: []string{`BREAST\s*-\s*B/?S`, `BREAST,\s*B/?S`, `BREAST\s+B/?S`}},
		{Name: "Breast T/S", Label: "Pechuga T/S (strapless)", Patterns: []string{`BREAST\s*T/?S`, `STRAPLESS`}},
		{Name: "Tenderloins", Label: "Tender de pechuga", Patterns: []string{`TENDERLOINS?`}},
		{Name: "Wings, Whole", Label: "Ala entera", Patterns: []string{`WINGS?,\s*WHOLE`}},
		{Name: "Wings, Drummettes", Label: "Muslito de ala (drummette)", Patterns: []string{`DRUMMETTES?`}},
		{Name: "Wings, Mid-Joint", Label: "Media ala (flat)", Patterns: []string{`MID[\-\s]?JOINT`, `FLATS?`}},
		{Name: "Party Wings", Label: "Alitas mixtas (party wings)", Patterns: []string{`PARTY\s*WINGS?`}},
		{Name: "Leg Quarters", Label: "Pierna-muslo (cuarto trasero)", Patterns: []string{`LEG\s*QUARTERS?`}},
		{Name: "Leg Meat - B/S", Label: "Carne de pierna B/S", Patterns: []string{`LEG\s*MEAT\s*-\s*B/?S`}},
		{Name: "Thighs - B/S", Label: "Muslo B/S", Patterns: []string{`THIGHS?.*B/?S`}},
		{Name: "Thighs", Label: "Muslo con hueso", Patterns: []string{`THIGHS?`}, Exclude: []string{`THIGHS?.*B/?S`}},
		{Name: "Drumsticks", Label: "Pierna (drumstick)", Patterns: []string{`DRUMSTICKS?`}},
		{Name: "Whole Legs", Label: "Pierna entera", Patterns: []string{`WHOLE\s*LEGS?`}},
		{Name: "Whole Broiler/Fryer", Label: "Pollo entero (broiler/fryer)", Patterns: []string{`WHOLE\s*BROILER/?FRYER`, `WHOLE\s*BROILER\s*-\s*FRYER`}},
	}
}
