package thermal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultBatteryPath is the Android battery temperature node.
	DefaultBatteryPath = "/sys/class/power_supply/battery/temp"
	// DefaultThermalBase holds thermal_zone*/temp nodes on Linux and Android.
	DefaultThermalBase = "/sys/class/thermal"
)

// Sensor is one temperature source.
type Sensor interface {
	Name() string
	ReadCelsius() (float64, error)
}

// decodeRaw converts a sysfs reading to Celsius. Kernels report
// millidegrees, Android batteries report decidegrees.
func decodeRaw(raw int64) float64 {
	switch {
	case raw > 1000:
		return float64(raw) / 1000.0
	case raw > 100:
		return float64(raw) / 10.0
	default:
		return float64(raw)
	}
}

func readSysfs(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return decodeRaw(raw), nil
}

// FileSensor reads a single sysfs temperature node, such as the battery.
type FileSensor struct {
	name string
	path string
}

// NewBatterySensor reads the battery proxy temperature.
func NewBatterySensor(path string) *FileSensor {
	if path == "" {
		path = DefaultBatteryPath
	}
	return &FileSensor{name: "battery", path: path}
}

func (s *FileSensor) Name() string { return s.name }

func (s *FileSensor) ReadCelsius() (float64, error) {
	return readSysfs(s.path)
}

// ZoneSensor reports the hottest readable thermal zone under a base directory.
type ZoneSensor struct {
	base string
}

// NewZoneSensor scans base/thermal_zone*/temp.
func NewZoneSensor(base string) *ZoneSensor {
	if base == "" {
		base = DefaultThermalBase
	}
	return &ZoneSensor{base: base}
}

func (s *ZoneSensor) Name() string { return "thermal_zone" }

func (s *ZoneSensor) ReadCelsius() (float64, error) {
	paths, err := filepath.Glob(filepath.Join(s.base, "thermal_zone*", "temp"))
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no thermal zones under %s", s.base)
	}
	sort.Strings(paths)

	var (
		hottest float64
		found   bool
		lastErr error
	)
	for _, p := range paths {
		c, err := readSysfs(p)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || c > hottest {
			hottest = c
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no readable thermal zone: %w", lastErr)
	}
	return hottest, nil
}

// StaticSensor always reports the same temperature. Used on development
// hosts and in tests.
type StaticSensor struct {
	Celsius float64
}

func (s StaticSensor) Name() string { return "static" }

func (s StaticSensor) ReadCelsius() (float64, error) { return s.Celsius, nil }
