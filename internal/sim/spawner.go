package sim

import (
	"math"
	"math/rand/v2"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Zone is a stretch of track with its own spawn cadence.
type Zone int

const (
	ZoneConstant Zone = iota
	ZoneFar
	ZoneNear
	ZoneBurst

	zoneCount
)

func (z Zone) String() string {
	switch z {
	case ZoneFar:
		return "far"
	case ZoneNear:
		return "near"
	case ZoneBurst:
		return "burst"
	default:
		return "constant"
	}
}

// Spawner places hazards ahead of the vehicle at a distance-based cadence.
type Spawner struct {
	cfg        SpawnConfig
	track      float64
	finishLine bool

	lastSpawn [zoneCount]float64
	spawned   [zoneCount]bool
	counter   uint64
	rng       *rand.Rand
}

// NewSpawner creates a spawner. The random strategy gets its own generator seeded
// from the configuration so that two runs with the same seed agree.
func NewSpawner(cfg Config) *Spawner {
	s := &Spawner{
		cfg:        cfg.Spawn,
		track:      cfg.TrackLength,
		finishLine: cfg.HasFinishLine(),
	}
	if cfg.Spawn.Strategy == SpawnRandom {
		s.rng = rand.New(rand.NewPCG(cfg.Spawn.Seed, cfg.Spawn.Seed^0x9e3779b97f4a7c15))
	}
	return s
}

// ZoneAt returns the zone in effect at a vehicle distance. ok is false past the finish line.
func (s *Spawner) ZoneAt(distance float64) (Zone, bool) {
	if !s.finishLine {
		return ZoneConstant, true
	}
	remaining := s.track - distance
	switch {
	case remaining <= 0:
		return ZoneConstant, false
	case remaining > s.cfg.NearZoneStart*s.track:
		return ZoneFar, true
	case remaining > s.cfg.BurstZoneStart*s.track:
		return ZoneNear, true
	default:
		return ZoneBurst, true
	}
}

// Interval returns the clamped spawn interval of a zone at a vehicle distance.
func (s *Spawner) Interval(zone Zone, distance float64) float64 {
	var base float64
	switch zone {
	case ZoneFar:
		base = s.cfg.FarInterval
	case ZoneNear:
		base = s.cfg.NearInterval
	case ZoneBurst:
		base = s.cfg.BurstInterval
	default:
		base = s.cfg.Interval
	}

	if s.cfg.DensityScaling && s.finishLine {
		progress := math.Min(math.Max(distance/s.track, 0), 1)
		base *= 1 - s.cfg.DensityGain*progress
	}
	if math.IsNaN(base) || base <= s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	return base
}

// Update spawns at most one hazard for the current zone and culls hazards that
// fell behind. It returns the spawned hazard, if any, and the ids removed.
func (s *Spawner) Update(w *World) (*SpawnedHazard, []core.ObstacleID) {
	vd := w.Vehicle.Distance
	removed := w.RemoveHazards(func(h *SpawnedHazard) bool {
		return h.Distance < vd-s.cfg.DespawnBehind
	})

	if !s.cfg.Enabled {
		return nil, removed
	}
	zone, ok := s.ZoneAt(vd)
	if !ok {
		return nil, removed
	}
	if s.spawned[zone] && vd-s.lastSpawn[zone] < s.Interval(zone, vd) {
		return nil, removed
	}

	lane, offset := s.place()
	h := w.AddHazard(lane, vd+s.cfg.Ahead+offset, zone, s.counter)
	s.counter++
	s.spawned[zone] = true
	s.lastSpawn[zone] = vd
	return h, removed
}

// Count returns how many hazards have been spawned.
func (s *Spawner) Count() uint64 {
	return s.counter
}

func (s *Spawner) place() (int, float64) {
	if s.rng != nil {
		lane := s.rng.IntN(LaneCount)
		var offset float64
		if hi := maxOffset(s.cfg.OffsetTable); hi > 0 {
			offset = s.rng.Float64() * hi
		}
		return lane, offset
	}
	pattern := s.cfg.LanePattern
	offsets := s.cfg.OffsetTable
	lane := pattern[s.counter%uint64(len(pattern))]
	offset := offsets[s.counter%uint64(len(offsets))]
	return clampLane(lane), offset
}

func maxOffset(table []float64) float64 {
	var m float64
	for _, v := range table {
		if v > m {
			m = v
		}
	}
	return m
}
