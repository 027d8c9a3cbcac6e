package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalogs holds the static data the sim is parameterised with. Digests
// let clients cache catalog payloads across reconnects.
type Catalogs struct {
	Units UnitCatalog
}

type UnitCatalog struct {
	Palette []string // kind ids, sorted
	ByID    map[string]KindDef
	Digest  string
}

// KindDef is one unit kind. Capabilities are opt-in by value: a kind
// with Fuel 0 has no fuel tank, Regen 0 never self-heals, Turret false
// has no turret.
type KindDef struct {
	ID       string  `yaml:"id"`
	Speed    float64 `yaml:"speed"`     // cells per second
	TurnRate float64 `yaml:"turn_rate"` // hull degrees per second
	HP       float64 `yaml:"hp"`

	Regen      float64 `yaml:"regen,omitempty"`       // hp per heal pulse
	Fuel       float64 `yaml:"fuel,omitempty"`        // tank capacity
	FuelBurn   float64 `yaml:"fuel_burn,omitempty"`   // per second while moving
	Turret     bool    `yaml:"turret,omitempty"`
	TurretRate float64 `yaml:"turret_rate,omitempty"` // degrees per second
}

// Load reads units.yaml from the config directory. A missing file yields
// the built-in kinds so fresh checkouts and snapshot resumes run without
// a config tree.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadUnits(filepath.Join(configDir, "units.yaml"), &c.Units); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadUnits(path string, out *UnitCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return buildUnits(builtinKinds(), out)
		}
		return err
	}
	var doc struct {
		Units []KindDef `yaml:"units"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("units.yaml: %w", err)
	}
	return buildUnits(doc.Units, out)
}

func buildUnits(defs []KindDef, out *UnitCatalog) error {
	out.ByID = make(map[string]KindDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("units.yaml: kind with empty id")
		}
		if d.Speed <= 0 || d.TurnRate <= 0 {
			return fmt.Errorf("units.yaml: kind %q needs positive speed and turn_rate", d.ID)
		}
		if d.Turret && d.TurretRate <= 0 {
			return fmt.Errorf("units.yaml: kind %q has a turret but no turret_rate", d.ID)
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("units.yaml: duplicate kind %q", d.ID)
		}
		out.ByID[d.ID] = d
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids

	canon, _ := json.Marshal(struct {
		IDs  []string           `json:"ids"`
		Defs map[string]KindDef `json:"defs"`
	}{ids, out.ByID})
	out.Digest = sha256Hex(canon)
	return nil
}

func builtinKinds() []KindDef {
	return []KindDef{
		{ID: "soldier", Speed: 1.5, TurnRate: 720, HP: 100, Regen: 0.2},
		{ID: "engineer", Speed: 1.2, TurnRate: 720, HP: 80, Regen: 0.2},
		{ID: "jeep", Speed: 4, TurnRate: 240, HP: 140, Fuel: 100, FuelBurn: 0.5},
		{ID: "apc", Speed: 2.8, TurnRate: 180, HP: 260, Fuel: 140, FuelBurn: 0.8},
		{ID: "tank", Speed: 2.2, TurnRate: 120, HP: 400, Fuel: 160, FuelBurn: 1.2, Turret: true, TurretRate: 180},
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
