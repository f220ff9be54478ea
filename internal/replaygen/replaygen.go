// Package replaygen produces synthetic replay record streams for testing
// and benchmarking the pipeline. Sessions are deterministic for a given
// seed: clients walk with bounded turn rates, projectiles spawn with
// owners and expire by impact or timeout, and a configurable fraction of
// destroys is silently lost to exercise slot-reuse recovery.
package replaygen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/pkg/logger"
)

// Session layout.
const (
	defaultTicks       = 300
	defaultClients     = 12
	projectileSlotBase = 64
	maxOpenProjectiles = 32
)

// Movement ranges.
const (
	mapExtent       = 4096.0
	walkSpeedMin    = 2.0
	walkSpeedRange  = 6.0
	maxTurnPerTick  = 12.0
	maxPitch        = 89.0
	pitchJitter     = 4.0
	projectileSpeed = 40.0
)

// Behavior odds per tick.
const (
	fieldSkipOdds      = 0.35
	visibilityFlipOdds = 0.04
	projectileOdds     = 0.08
	impactOdds         = 0.6
	pingReportOdds     = 0.25
)

// Projectile lifetime bounds in ticks.
const (
	fuseMin   = 3
	fuseRange = 8
)

// Config controls one generated session.
type Config struct {
	Seed    int64
	Ticks   int
	Clients int

	// Bots is the number of clients tagged with bot account IDs.
	Bots int

	// LostDestroyRate is the fraction of projectile destroys dropped from
	// the output, leaving their slots to be reused without a destroy.
	LostDestroyRate float64
}

// Generator writes deterministic synthetic sessions as JSONL records.
type Generator struct {
	cfg Config
	rng *rand.Rand
	log logger.Logger
}

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithLogger sets a custom logger for the generator.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates a generator for one session. The same config always
// produces the same byte stream.
func New(cfg Config, opts ...Option) *Generator {
	if cfg.Ticks <= 0 {
		cfg.Ticks = defaultTicks
	}
	if cfg.Clients <= 0 {
		cfg.Clients = defaultClients
	}
	if cfg.Bots > cfg.Clients {
		cfg.Bots = cfg.Clients
	}
	g := &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Get().Named("replaygen")
	}
	return g
}

// line is the wire shape of one generated record.
type line struct {
	Tick      int64                  `json:"tick"`
	Slot      int                    `json:"slot"`
	Class     string                 `json:"class,omitempty"`
	Lifecycle string                 `json:"lifecycle,omitempty"`
	AccountID int64                  `json:"account_id,omitempty"`
	Owner     *int                   `json:"owner,omitempty"`
	Expiry    string                 `json:"expiry,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// clientState is one walking client.
type clientState struct {
	slot      int
	accountID int64
	x, y, z   float64
	heading   float64
	yaw       float64
	pitch     float64
	speed     float64
	health    int64
	visible   bool
}

// projectileState is one in-flight projectile.
type projectileState struct {
	slot      int
	owner     int
	x, y, z   float64
	heading   float64
	destroyAt int64
	expiry    string
}

// Write generates the session and streams it to w, one JSON record per
// line, ordered by tick. It returns the number of records written.
func (g *Generator) Write(ctx context.Context, w io.Writer) (int, error) {
	sessionID := uuid.New()
	g.log.Info(ctx, "generating session",
		logger.String("sessionID", sessionID.String()),
		logger.Int64("seed", g.cfg.Seed),
		logger.Int("ticks", g.cfg.Ticks),
		logger.Int("clients", g.cfg.Clients),
	)

	enc := json.NewEncoder(w)
	clients := g.seedClients()
	var projectiles []*projectileState
	nextProjectileSlot := projectileSlotBase

	written := 0
	emit := func(l *line) error {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encoding record at tick %d: %w", l.Tick, err)
		}
		written++
		return nil
	}

	for tick := int64(1); tick <= int64(g.cfg.Ticks); tick++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		for _, c := range clients {
			g.step(c)
			l := g.clientLine(tick, c)
			if tick == 1 {
				l.Lifecycle = "spawn"
			}
			if err := emit(l); err != nil {
				return written, err
			}
		}

		// Advance projectiles, destroying the expired ones.
		live := projectiles[:0]
		for _, p := range projectiles {
			p.x += projectileSpeed * math.Cos(p.heading*math.Pi/180)
			p.y += projectileSpeed * math.Sin(p.heading*math.Pi/180)
			if tick < p.destroyAt {
				if err := emit(g.projectileLine(tick, p, "update", "")); err != nil {
					return written, err
				}
				live = append(live, p)
				continue
			}
			if g.rng.Float64() < g.cfg.LostDestroyRate {
				// Destroy lost in transit; the slot stays apparently bound.
				continue
			}
			if err := emit(g.projectileLine(tick, p, "destroy", p.expiry)); err != nil {
				return written, err
			}
		}
		projectiles = live

		if len(projectiles) < maxOpenProjectiles && g.rng.Float64() < projectileOdds {
			owner := clients[g.rng.Intn(len(clients))]
			p := g.launch(tick, nextProjectileSlot, owner)
			nextProjectileSlot++
			projectiles = append(projectiles, p)
			if err := emit(g.projectileLine(tick, p, "spawn", "")); err != nil {
				return written, err
			}
		}
	}

	// Destroy survivors on the final tick so the session ends clean.
	finalTick := int64(g.cfg.Ticks)
	for _, p := range projectiles {
		if err := emit(g.projectileLine(finalTick, p, "destroy", "expired")); err != nil {
			return written, err
		}
	}

	g.log.Info(ctx, "session generated", logger.Int("records", written))
	return written, nil
}

func (g *Generator) seedClients() []*clientState {
	clients := make([]*clientState, g.cfg.Clients)
	for i := range clients {
		accountID := int64(100000 + g.rng.Intn(900000))
		if i < g.cfg.Bots {
			accountID = int64(1 + g.rng.Intn(255))
		}
		clients[i] = &clientState{
			slot:      i + 1,
			accountID: accountID,
			x:         g.rng.Float64() * mapExtent,
			y:         g.rng.Float64() * mapExtent,
			heading:   g.rng.Float64() * 360,
			speed:     walkSpeedMin + g.rng.Float64()*walkSpeedRange,
			health:    100,
			visible:   true,
		}
	}
	return clients
}

// step advances one client by one tick with a bounded heading change.
func (g *Generator) step(c *clientState) {
	c.heading += (g.rng.Float64()*2 - 1) * maxTurnPerTick
	c.heading = math.Mod(c.heading+360, 360)
	c.yaw = c.heading
	c.pitch += (g.rng.Float64()*2 - 1) * pitchJitter
	if c.pitch > maxPitch {
		c.pitch = maxPitch
	} else if c.pitch < -maxPitch {
		c.pitch = -maxPitch
	}
	c.x += c.speed * math.Cos(c.heading*math.Pi/180)
	c.y += c.speed * math.Sin(c.heading*math.Pi/180)
	if g.rng.Float64() < visibilityFlipOdds {
		c.visible = !c.visible
	}
}

func (g *Generator) clientLine(tick int64, c *clientState) *line {
	fields := map[string]interface{}{
		schema.FieldPosition: []float64{round(c.x), round(c.y)},
		"position[2]":        round(c.z),
		schema.FieldYaw:      round(c.yaw),
		schema.FieldPitch:    round(c.pitch),
	}
	// The protocol only reports what changed; mimic the sparseness.
	if tick == 1 || g.rng.Float64() > fieldSkipOdds {
		fields[schema.FieldHealth] = c.health
		fields[schema.FieldVisibility] = c.visible
	}
	if g.rng.Float64() < pingReportOdds {
		fields[schema.FieldPing] = int64(10 + g.rng.Intn(90))
	}
	return &line{
		Tick:      tick,
		Slot:      c.slot,
		Class:     schema.ClassClient,
		AccountID: c.accountID,
		Fields:    fields,
	}
}

func (g *Generator) launch(tick int64, slot int, owner *clientState) *projectileState {
	expiry := "expired"
	if g.rng.Float64() < impactOdds {
		expiry = "impact"
	}
	return &projectileState{
		slot:      slot,
		owner:     owner.slot,
		x:         owner.x,
		y:         owner.y,
		z:         owner.z,
		heading:   owner.heading,
		destroyAt: tick + int64(fuseMin+g.rng.Intn(fuseRange)),
		expiry:    expiry,
	}
}

func (g *Generator) projectileLine(tick int64, p *projectileState, lifecycle, expiry string) *line {
	l := &line{
		Tick:      tick,
		Slot:      p.slot,
		Class:     schema.ClassProjectile,
		Lifecycle: lifecycle,
		Expiry:    expiry,
		Fields: map[string]interface{}{
			schema.FieldPosition: []float64{round(p.x), round(p.y)},
			"position[2]":        round(p.z),
		},
	}
	if lifecycle == "spawn" {
		owner := p.owner
		l.Owner = &owner
	}
	return l
}

// round trims coordinates to two decimals so output is compact and
// stable across platforms.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}
