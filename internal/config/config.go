package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/forno/internal/timespec"
	"github.com/dyluth/forno/pkg/board"
)

// Station kinds accepted in the kitchen section.
const (
	KindRobot  = "robot"
	KindOven   = "oven"
	KindCamera = "camera-system"
)

// Default per-action durations, used for any action the config does not
// override. Values follow the reference kitchen layout.
var defaultDurations = map[string]time.Duration{
	"take":      3 * time.Second,
	"sauce":     4 * time.Second,
	"cheese":    4 * time.Second,
	"to_oven":   3 * time.Second,
	"bake":      30 * time.Second,
	"from_oven": 3 * time.Second,
	"slice":     8 * time.Second,
	"pack":      6 * time.Second,
	"put":       3 * time.Second,
}

// KitchenConfig represents the top-level kitchen.yml configuration.
type KitchenConfig struct {
	Version     string             `yaml:"version"`
	Stations    []Station          `yaml:"kitchen"`
	Timing      *TimingConfig      `yaml:"timing,omitempty"`
	Reliability map[string]float64 `yaml:"reliability,omitempty"`
	Tasks       []Task             `yaml:"tasks,omitempty"`
}

// Station is one entry of the kitchen section: a robot kind, the oven pool
// or the camera system.
type Station struct {
	Kind       string         `yaml:"kind"`
	Count      *int           `yaml:"count,omitempty"`    // default 1
	Position   board.Position `yaml:"position,omitempty"` // robot only
	Operations []string       `yaml:"operations,omitempty"`
}

// TimingConfig holds raw timing values as written in YAML.
type TimingConfig struct {
	Durations map[string]string `yaml:"durations,omitempty"` // action -> timespec
	Variation []float64         `yaml:"variation,omitempty"` // [min, max] multipliers
}

// Task is one step of the manager's demo script. Exactly one field must be
// set per entry.
type Task struct {
	Order int    `yaml:"order,omitempty"` // create N orders
	Sleep string `yaml:"sleep,omitempty"` // wait for a timespec duration
	Break *int   `yaml:"break,omitempty"` // request a robot break
}

// RobotSpec is one robot instance expanded from the stations. IDs are
// assigned sequentially in declaration order.
type RobotSpec struct {
	ID         int
	Position   board.Position
	Operations []board.Operation
}

// CameraSpec is one quality camera instance, bound 1:1 to a
// (robot, operation) pair.
type CameraSpec struct {
	RobotID   int
	Operation string
}

// ActionTiming is the resolved simulation timing for robot actions.
type ActionTiming struct {
	Durations map[string]time.Duration
	Variation timespec.Range
}

// Load reads and validates a kitchen configuration file.
func Load(path string) (*KitchenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg KitchenConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate performs strict validation on the configuration. Any structural
// problem with an operation script is fatal: no agent may run against a
// script that could violate the oven handoff protocol.
func (c *KitchenConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if len(c.Stations) == 0 {
		return fmt.Errorf("no stations defined")
	}

	var preOven, postOven, ovens int
	cameraSeen := false
	for i, station := range c.Stations {
		switch station.Kind {
		case KindRobot:
			if err := station.validateRobot(); err != nil {
				return fmt.Errorf("station %d: %w", i, err)
			}
			if station.Position == board.PositionPreOven {
				preOven += station.count()
			} else {
				postOven += station.count()
			}
		case KindOven:
			ovens += station.count()
		case KindCamera:
			if cameraSeen {
				return fmt.Errorf("station %d: duplicate camera-system station", i)
			}
			cameraSeen = true
			for _, op := range station.Operations {
				if board.ParseOperation(op).IsMarker() {
					return fmt.Errorf("station %d: camera-system cannot watch protocol marker %q", i, op)
				}
			}
		default:
			return fmt.Errorf("station %d: unknown kind %q", i, station.Kind)
		}
		if station.count() < 1 {
			return fmt.Errorf("station %d: count must be at least 1", i)
		}
	}

	if ovens == 0 {
		return fmt.Errorf("at least one oven is required")
	}
	if preOven == 0 || postOven == 0 {
		return fmt.Errorf("at least one robot is required on each side of the ovens (pre=%d, post=%d)", preOven, postOven)
	}

	if c.Timing != nil {
		if _, err := c.Timing.resolve(); err != nil {
			return err
		}
	}

	for op, reliability := range c.Reliability {
		if reliability < 0 || reliability > 1 {
			return fmt.Errorf("reliability of %q must be in [0,1], got %v", op, reliability)
		}
	}

	return c.validateTasks(preOven + postOven)
}

func (c *KitchenConfig) validateTasks(robotCount int) error {
	for i, task := range c.Tasks {
		set := 0
		if task.Order != 0 {
			set++
			if task.Order < 0 {
				return fmt.Errorf("task %d: order count must be positive", i)
			}
		}
		if task.Sleep != "" {
			set++
			if _, err := timespec.Parse(task.Sleep); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
		}
		if task.Break != nil {
			set++
			if *task.Break < 0 || *task.Break >= robotCount {
				return fmt.Errorf("task %d: break targets unknown robot %d (have %d robots)", i, *task.Break, robotCount)
			}
		}
		if set != 1 {
			return fmt.Errorf("task %d: exactly one of order, sleep, break must be set", i)
		}
	}
	return nil
}

// validateRobot checks a robot station's operation script against the
// structural rules of the handoff protocol.
func (s *Station) validateRobot() error {
	if err := s.Position.Validate(); err != nil {
		return err
	}
	if len(s.Operations) == 0 {
		return fmt.Errorf("robot has an empty operation script")
	}

	ops := make([]board.Operation, len(s.Operations))
	counts := make(map[board.OpKind]int)
	for i, name := range s.Operations {
		ops[i] = board.ParseOperation(name)
		counts[ops[i].Kind]++
	}

	switch s.Position {
	case board.PositionPreOven:
		if counts[board.OpReleaseOven] != 0 {
			return fmt.Errorf("pre-oven robot cannot perform %q", board.OpNameRelease)
		}
		if counts[board.OpReserveOven] != 1 || counts[board.OpConfirmPlacement] != 1 {
			return fmt.Errorf("pre-oven robot needs exactly one %q and one %q", board.OpNameReserve, board.OpNameConfirm)
		}
		reserve := indexOfKind(ops, board.OpReserveOven)
		confirm := indexOfKind(ops, board.OpConfirmPlacement)
		if confirm != len(ops)-1 {
			return fmt.Errorf("%q must be the final pre-oven operation", board.OpNameConfirm)
		}
		if confirm-reserve < 2 {
			return fmt.Errorf("the placement step must sit between %q and %q", board.OpNameReserve, board.OpNameConfirm)
		}
	case board.PositionPostOven:
		if counts[board.OpReserveOven] != 0 || counts[board.OpConfirmPlacement] != 0 {
			return fmt.Errorf("post-oven robot cannot perform sync markers")
		}
		if counts[board.OpReleaseOven] != 1 {
			return fmt.Errorf("post-oven robot needs exactly one %q", board.OpNameRelease)
		}
		if indexOfKind(ops, board.OpReleaseOven) == 0 {
			return fmt.Errorf("%q cannot run before the oven has been retrieved", board.OpNameRelease)
		}
	}

	return nil
}

func indexOfKind(ops []board.Operation, kind board.OpKind) int {
	for i, op := range ops {
		if op.Kind == kind {
			return i
		}
	}
	return -1
}

func (s *Station) count() int {
	if s.Count == nil {
		return 1
	}
	return *s.Count
}

// Robots expands the robot stations into individual robot specs with
// sequentially assigned IDs.
func (c *KitchenConfig) Robots() []RobotSpec {
	var robots []RobotSpec
	nextID := 0
	for _, station := range c.Stations {
		if station.Kind != KindRobot {
			continue
		}
		ops := make([]board.Operation, len(station.Operations))
		for i, name := range station.Operations {
			ops[i] = board.ParseOperation(name)
		}
		for n := 0; n < station.count(); n++ {
			robots = append(robots, RobotSpec{ID: nextID, Position: station.Position, Operations: ops})
			nextID++
		}
	}
	return robots
}

// OvenCount returns the total configured number of ovens.
func (c *KitchenConfig) OvenCount() int {
	total := 0
	for _, station := range c.Stations {
		if station.Kind == KindOven {
			total += station.count()
		}
	}
	return total
}

// Cameras returns one camera spec per (robot, watched operation) pair where
// the robot actually performs the operation.
func (c *KitchenConfig) Cameras() []CameraSpec {
	watched := map[string]bool{}
	for _, station := range c.Stations {
		if station.Kind == KindCamera {
			for _, op := range station.Operations {
				watched[op] = true
			}
		}
	}

	var cameras []CameraSpec
	for _, robot := range c.Robots() {
		for _, op := range robot.Operations {
			if op.Kind == board.OpPhysical && watched[op.Name] {
				cameras = append(cameras, CameraSpec{RobotID: robot.ID, Operation: op.Name})
			}
		}
	}
	return cameras
}

// ActionTiming resolves the timing section against the defaults.
func (c *KitchenConfig) ActionTiming() (ActionTiming, error) {
	if c.Timing == nil {
		return ActionTiming{
			Durations: defaultDurations,
			Variation: timespec.Range{Min: 0.9, Max: 1.2},
		}, nil
	}
	return c.Timing.resolve()
}

func (t *TimingConfig) resolve() (ActionTiming, error) {
	durations := make(map[string]time.Duration, len(defaultDurations)+len(t.Durations))
	for action, d := range defaultDurations {
		durations[action] = d
	}
	for action, spec := range t.Durations {
		d, err := timespec.Parse(spec)
		if err != nil {
			return ActionTiming{}, fmt.Errorf("duration of %q: %w", action, err)
		}
		durations[action] = d
	}

	variation := timespec.Range{Min: 0.9, Max: 1.2}
	if t.Variation != nil {
		var err error
		variation, err = timespec.ParseRange(t.Variation)
		if err != nil {
			return ActionTiming{}, err
		}
	}

	return ActionTiming{Durations: durations, Variation: variation}, nil
}
