// Package thermal gates inference on device temperature.
//
// The Gate is a two-state machine. Normal moves to Cooldown when the
// hottest sensor exceeds the throttle threshold. Cooldown lasts a fixed
// duration regardless of how quickly the device recovers, then the gate
// re-evaluates.
package thermal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"nku/internal/logging"
)

const (
	DefaultThrottleC = 42.0
	DefaultCooldown  = 30 * time.Second
	DefaultCacheTTL  = 2 * time.Second

	warmHeadroomC = 5.0
)

// Status is the result of one CheckStatus call.
type Status struct {
	Safe                     bool    `json:"safe"`
	TemperatureC             float64 `json:"temperature_c"`
	CooldownRemainingSeconds *int    `json:"cooldown_remaining_seconds,omitempty"`
	Message                  string  `json:"message"`
}

// Gate samples its sensors and tracks the cooldown window. Safe for concurrent use.
type Gate struct {
	sensors  []Sensor
	throttle float64
	cooldown time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu            sync.Mutex
	cachedTemp    float64
	cachedAt      time.Time
	cacheValid    bool
	inCooldown    bool
	cooldownStart time.Time
}

// Option configures a Gate.
type Option func(*Gate)

func WithThrottle(c float64) Option {
	return func(g *Gate) {
		if c > 0 {
			g.throttle = c
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(g *Gate) { g.cooldown = d }
}

func WithCacheTTL(d time.Duration) Option {
	return func(g *Gate) { g.cacheTTL = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate over the given sensors.
func NewGate(sensors []Sensor, opts ...Option) *Gate {
	g := &Gate{
		sensors:  sensors,
		throttle: DefaultThrottleC,
		cooldown: DefaultCooldown,
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	logging.ThermalDebug("gate initialized: sensors=%d throttle=%.1fC cooldown=%v", len(sensors), g.throttle, g.cooldown)
	return g
}

// Throttle returns the configured threshold in Celsius.
func (g *Gate) Throttle() float64 { return g.throttle }

// CurrentTemperature returns the hottest sensor reading, reusing a recent
// sample within the cache window.
func (g *Gate) CurrentTemperature() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked()
}

func (g *Gate) currentLocked() float64 {
	now := g.now()
	if g.cacheValid && now.Sub(g.cachedAt) < g.cacheTTL {
		return g.cachedTemp
	}

	var (
		hottest float64
		read    bool
	)
	for _, s := range g.sensors {
		c, err := s.ReadCelsius()
		if err != nil {
			logging.ThermalDebug("sensor %s unreadable: %v", s.Name(), err)
			continue
		}
		if !read || c > hottest {
			hottest = c
			read = true
		}
	}
	if !read {
		logging.ThermalWarn("no readable temperature sensor, reporting 0C")
		hottest = 0
	}

	g.cachedTemp = hottest
	g.cachedAt = now
	g.cacheValid = true
	return hottest
}

// CheckStatus advances the state machine and reports whether inference may run.
func (g *Gate) CheckStatus() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	temp := g.currentLocked()
	now := g.now()

	if g.inCooldown {
		remaining := g.cooldown - now.Sub(g.cooldownStart)
		if remaining > 0 {
			secs := int(math.Ceil(remaining.Seconds()))
			return Status{
				Safe:                     false,
				TemperatureC:             temp,
				CooldownRemainingSeconds: &secs,
				Message:                  fmt.Sprintf("cooling down, wait %ds", secs),
			}
		}
		g.inCooldown = false
		logging.Thermal("cooldown period ended")
	}

	if temp > g.throttle {
		g.inCooldown = true
		g.cooldownStart = now
		secs := int(math.Ceil(g.cooldown.Seconds()))
		logging.ThermalWarn("thermal limit exceeded: %.1fC > %.1fC, cooldown %v", temp, g.throttle, g.cooldown)
		return Status{
			Safe:                     false,
			TemperatureC:             temp,
			CooldownRemainingSeconds: &secs,
			Message:                  fmt.Sprintf("limit exceeded (%.1fC), cooldown active", temp),
		}
	}

	headroom := g.throttle - temp
	msg := fmt.Sprintf("normal (%.1fC)", temp)
	if headroom < warmHeadroomC {
		msg = fmt.Sprintf("warm (%.1fC, %.1fC headroom)", temp, headroom)
	}
	return Status{Safe: true, TemperatureC: temp, Message: msg}
}

// CanRun is CheckStatus().Safe.
func (g *Gate) CanRun() bool {
	return g.CheckStatus().Safe
}
