package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz    int     `yaml:"tick_rate_hz"`
	GridW         int     `yaml:"grid_w"`
	GridH         int     `yaml:"grid_h"`
	CellSize      float64 `yaml:"cell_size"`
	ObsEveryTicks int     `yaml:"obs_every_ticks"`

	AutosaveEverySec float64 `yaml:"autosave_every_sec"`

	Movement Movement `yaml:"movement"`
}

type Movement struct {
	// WaitRetrySec is how long a shelved unit waits before re-checking
	// the blocked cell; every failed check extends the wait by the same
	// amount.
	WaitRetrySec float64 `yaml:"wait_retry_sec"`
	// PushThroughLen: shelved paths shorter than this resume without
	// waiting for the blocked cell to clear.
	PushThroughLen int `yaml:"push_through_len"`
	// StarveWarnSec: waits longer than this are counted and audited.
	StarveWarnSec float64 `yaml:"starve_warn_sec"`
	// TurretReturnRate scales how fast an idle turret eases back onto
	// the hull facing, in degrees per second.
	TurretReturnRate float64 `yaml:"turret_return_rate"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:  "1.0",
		TickRateHz:       10,
		GridW:            96,
		GridH:            96,
		CellSize:         64,
		ObsEveryTicks:    2,
		AutosaveEverySec: 300,
		Movement: Movement{
			WaitRetrySec:     1.0,
			PushThroughLen:   20,
			StarveWarnSec:    10,
			TurretReturnRate: 90,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.TickRateHz <= 0 || t.GridW <= 0 || t.GridH <= 0 || t.CellSize <= 0 {
		return t, fmt.Errorf("tuning.yaml: tick_rate_hz, grid_w, grid_h, cell_size must be positive")
	}
	return t, nil
}
