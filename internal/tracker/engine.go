package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/batch"
	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/geofs"
	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/metrics"
	"osprey-eyes/mindseye/internal/models"
)

// SnapshotSource produces the current pilot snapshot set.
type SnapshotSource interface {
	GetPlayers(ctx context.Context, filter geofs.PlayerFilter) ([]geofs.PilotSnapshot, error)
}

// PilotStore is the read side the engine needs from the users
// collection; mutations go through the write buffer instead.
type PilotStore interface {
	FindByAccountIDs(ctx context.Context, ids []string) (map[string]*models.PilotRecord, error)
	FindOnline(ctx context.Context) ([]models.PilotRecord, error)
}

// ForceStore reads and mutates patrol state.
type ForceStore interface {
	List(ctx context.Context) ([]models.Force, error)
	OpenPatrol(ctx context.Context, forceID primitive.ObjectID, accountID, callsign string, now time.Time) error
	ClosePatrol(ctx context.Context, forceID primitive.ObjectID, accountID string, now time.Time) error
}

// DistributionStore persists aircraft-type tallies.
type DistributionStore interface {
	InsertAircraftDistribution(ctx context.Context, distribution map[string]int, at time.Time) error
}

// Notifier enqueues webhook payloads; it must never block.
type Notifier interface {
	Enqueue(category string, payload dispatch.Payload)
}

// Config carries the empirically tuned thresholds. They are settings,
// not invariants: nobody has derived a "correct" value for either.
type Config struct {
	OfflineGrace         time.Duration
	TeleportKm           float64
	DistributionInterval time.Duration
	ForceCacheTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.OfflineGrace == 0 {
		c.OfflineGrace = time.Minute
	}
	if c.TeleportKm == 0 {
		c.TeleportKm = 50
	}
	if c.DistributionInterval == 0 {
		c.DistributionInterval = time.Hour
	}
	if c.ForceCacheTTL == 0 {
		c.ForceCacheTTL = 30 * time.Second
	}
	return c
}

// Stats is a point-in-time view for the status endpoint.
type Stats struct {
	Cycles     uint64    `json:"cycles"`
	LastCycle  time.Time `json:"lastCycle"`
	PilotsSeen int       `json:"pilotsSeen"`
}

const forceCacheKey = "forces"

// Engine consumes fresh snapshots, diffs them against persisted state
// and emits exactly the mutations and events needed to converge the
// store to reality.
type Engine struct {
	source    SnapshotSource
	pilots    PilotStore
	forces    ForceStore
	telemetry DistributionStore
	buffer    *batch.Buffer
	notifier  Notifier
	matcher   *FilterMatcher

	cfg Config
	reg *metrics.Registry
	log *zap.SugaredLogger

	forceCache       *cache.Cache
	lastDistribution time.Time

	statsMu sync.Mutex
	stats   Stats
}

func NewEngine(
	source SnapshotSource,
	pilots PilotStore,
	forces ForceStore,
	telemetry DistributionStore,
	buffer *batch.Buffer,
	notifier Notifier,
	cfg Config,
	reg *metrics.Registry,
) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		source:     source,
		pilots:     pilots,
		forces:     forces,
		telemetry:  telemetry,
		buffer:     buffer,
		notifier:   notifier,
		matcher:    NewFilterMatcher(),
		cfg:        cfg,
		reg:        reg,
		log:        logging.WithComponent("tracker"),
		forceCache: cache.New(cfg.ForceCacheTTL, 2*cfg.ForceCacheTTL),
	}
}

// Stats returns cycle counters for the status endpoint. Safe to call
// from another goroutine.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// RunCycle executes one diffing pass against the latest snapshot.
func (e *Engine) RunCycle(ctx context.Context, toggles models.Toggles) error {
	start := time.Now()

	snapshots, err := e.source.GetPlayers(ctx, geofs.RealPlayersOnly)
	if err != nil {
		if e.reg != nil {
			e.reg.SnapshotErrors.Inc()
		}
		return fmt.Errorf("snapshot fetch failed: %w", err)
	}

	// Dedupe by accountId keeping first-seen
	seen := make(map[string]geofs.PilotSnapshot, len(snapshots))
	order := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		if _, dup := seen[s.AccountID]; dup {
			continue
		}
		seen[s.AccountID] = s
		order = append(order, s.AccountID)
	}

	known, err := e.pilots.FindByAccountIDs(ctx, order)
	if err != nil {
		return fmt.Errorf("failed to load persisted records: %w", err)
	}

	online, err := e.pilots.FindOnline(ctx)
	if err != nil {
		return fmt.Errorf("failed to load online records: %w", err)
	}

	now := time.Now()
	e.detectOffline(ctx, online, seen, now)

	distribution := make(map[string]int)
	for _, id := range order {
		snap := seen[id]
		distribution[snap.AircraftType]++

		record, exists := known[id]
		if !exists {
			e.createRecord(ctx, snap, toggles, now)
			continue
		}
		e.diffRecord(ctx, record, snap, toggles, now)
	}

	if toggles.LogAircraftDistributions && now.Sub(e.lastDistribution) >= e.cfg.DistributionInterval {
		if err := e.telemetry.InsertAircraftDistribution(ctx, distribution, now); err != nil {
			e.log.Errorw("Failed to persist aircraft distribution", "error", err.Error())
		} else {
			e.lastDistribution = now
		}
	}

	// The next cycle diffs against the store; its reads must see this
	// cycle's mutations, or transitions get re-detected until the
	// buffer fills. Still at most one bulk write per cycle.
	e.buffer.Flush(ctx)

	if e.reg != nil {
		e.reg.CyclesTotal.Inc()
		e.reg.CycleDuration.Observe(time.Since(start).Seconds())
		e.reg.PilotsOnline.Set(float64(len(order)))
	}

	e.statsMu.Lock()
	e.stats.Cycles++
	e.stats.LastCycle = now
	e.stats.PilotsSeen = len(order)
	e.statsMu.Unlock()

	return nil
}

// detectOffline marks records previously online, absent from the
// snapshot, and past the grace period. The grace absorbs transient
// polling misses.
func (e *Engine) detectOffline(ctx context.Context, online []models.PilotRecord, seen map[string]geofs.PilotSnapshot, now time.Time) {
	for i := range online {
		record := &online[i]
		if _, present := seen[record.AccountID]; present {
			continue
		}
		if now.Sub(record.LastOnline) < e.cfg.OfflineGrace {
			continue
		}

		event := OfflineEvent{Callsign: record.CurrentCallsign}
		update := mongo.NewUpdateOneModel().
			SetFilter(bson.M{"accountId": record.AccountID}).
			SetUpdate(bson.M{
				"$set":  bson.M{"online": false},
				"$push": bson.M{"events": bson.M{"$each": []models.EventRecord{event.Record(now)}}},
			})
		e.buffer.Add(ctx, update)
		e.countEvent(event.Type())

		e.closeMatchingPatrols(ctx, record.AccountID, now)
	}
}

// createRecord inserts a first-sighting record with an empty event
// log. The upsert keyed on accountId keeps concurrent creations
// idempotent.
func (e *Engine) createRecord(ctx context.Context, snap geofs.PilotSnapshot, toggles models.Toggles, now time.Time) {
	insert := mongo.NewUpdateOneModel().
		SetFilter(bson.M{"accountId": snap.AccountID}).
		SetUpsert(true).
		SetUpdate(bson.M{"$setOnInsert": bson.M{
			"accountId":       snap.AccountID,
			"currentCallsign": snap.Callsign,
			"pastCallsigns":   []string{},
			"currentAircraft": snap.AircraftType,
			"online":          true,
			"lastOnline":      now,
			"lastPosition":    models.GeoPoint{Lat: snap.Lat, Lon: snap.Lon},
			"events":          []models.EventRecord{},
		}})
	e.buffer.Add(ctx, insert)

	if toggles.DisplayNewAccounts {
		e.notifier.Enqueue(dispatch.CategoryNewAccount, dispatch.Payload{
			"acid":     snap.AccountID,
			"callsign": snap.Callsign,
		})
	}

	e.openMatchingPatrols(ctx, snap.AccountID, snap.Callsign, now)
}

// diffRecord compares a known record against its fresh snapshot and
// expresses all resulting mutations as one idempotent upsert.
func (e *Engine) diffRecord(ctx context.Context, record *models.PilotRecord, snap geofs.PilotSnapshot, toggles models.Toggles, now time.Time) {
	var events []models.EventRecord

	if !record.Online {
		event := OnlineEvent{Callsign: snap.Callsign}
		events = append(events, event.Record(now))
		e.countEvent(event.Type())
		e.openMatchingPatrols(ctx, snap.AccountID, snap.Callsign, now)
	}

	distanceKm := Haversine(record.LastPosition.Lat, record.LastPosition.Lon, snap.Lat, snap.Lon)
	if distanceKm >= e.cfg.TeleportKm {
		event := TeleportationEvent{
			From:       record.LastPosition,
			To:         models.GeoPoint{Lat: snap.Lat, Lon: snap.Lon},
			DistanceKm: distanceKm,
		}
		events = append(events, event.Record(now))
		e.countEvent(event.Type())
	}

	if record.CurrentAircraft != snap.AircraftType {
		event := AircraftChangeEvent{
			Callsign:    snap.Callsign,
			OldAircraft: record.CurrentAircraft,
			NewAircraft: snap.AircraftType,
		}
		events = append(events, event.Record(now))
		e.countEvent(event.Type())

		if toggles.LogAircraftChanges {
			e.notifier.Enqueue(dispatch.CategoryAircraftChange, dispatch.Payload{
				"callsign":    snap.Callsign,
				"oldAircraft": record.CurrentAircraft,
				"newAircraft": snap.AircraftType,
			})
		}
	}

	callsignChanged := record.CurrentCallsign != snap.Callsign
	if callsignChanged {
		event := CallsignChangeEvent{
			OldCallsign: record.CurrentCallsign,
			NewCallsign: snap.Callsign,
		}
		events = append(events, event.Record(now))
		e.countEvent(event.Type())

		if toggles.DisplayCallsignChanges {
			e.notifier.Enqueue(dispatch.CategoryCallsignChange, dispatch.Payload{
				"acid":        snap.AccountID,
				"oldCallsign": record.CurrentCallsign,
				"newCallsign": snap.Callsign,
			})
		}

		if record.Online {
			e.reevaluatePatrols(ctx, snap.AccountID, snap.Callsign, now)
		}
	}

	update := bson.M{
		"$set": bson.M{
			"currentCallsign": snap.Callsign,
			"currentAircraft": snap.AircraftType,
			"online":          true,
			"lastOnline":      now,
			"lastPosition":    models.GeoPoint{Lat: snap.Lat, Lon: snap.Lon},
		},
	}
	if len(events) > 0 {
		update["$push"] = bson.M{"events": bson.M{"$each": events}}
	}
	if callsignChanged {
		update["$addToSet"] = bson.M{"pastCallsigns": record.CurrentCallsign}
	}

	e.buffer.Add(ctx, mongo.NewUpdateOneModel().
		SetFilter(bson.M{"accountId": snap.AccountID}).
		SetUpsert(true).
		SetUpdate(update))
}

func (e *Engine) countEvent(eventType string) {
	if e.reg != nil {
		e.reg.EventsTotal.WithLabelValues(eventType).Inc()
	}
}

// loadForces returns the force list through a short-lived cache; the
// list is checked on every transition but changes rarely.
func (e *Engine) loadForces(ctx context.Context) []models.Force {
	if v, found := e.forceCache.Get(forceCacheKey); found {
		if forces, ok := v.([]models.Force); ok {
			return forces
		}
	}

	forces, err := e.forces.List(ctx)
	if err != nil {
		e.log.Errorw("Failed to load forces", "error", err.Error())
		return nil
	}
	e.forceCache.Set(forceCacheKey, forces, cache.DefaultExpiration)
	return forces
}

func (e *Engine) invalidateForces() {
	e.forceCache.Delete(forceCacheKey)
}

func hasOpenPatrol(force *models.Force, accountID string) bool {
	for i := range force.Patrols {
		if force.Patrols[i].AccountID == accountID && force.Patrols[i].EndTime == nil {
			return true
		}
	}
	return false
}

// openMatchingPatrols opens a patrol on every force whose filter
// matches the callsign, unless one is already open for the pair.
func (e *Engine) openMatchingPatrols(ctx context.Context, accountID, callsign string, now time.Time) {
	mutated := false
	for _, force := range e.loadForces(ctx) {
		if hasOpenPatrol(&force, accountID) {
			continue
		}
		if !e.matcher.Matches(force.CallsignFilter, callsign) {
			continue
		}
		if err := e.forces.OpenPatrol(ctx, force.ID, accountID, callsign, now); err != nil {
			e.log.Errorw("Failed to open patrol", "force", force.Name, "accountId", accountID, "error", err.Error())
			continue
		}
		e.log.Infow("Patrol started", "force", force.Name, "callsign", callsign)
		mutated = true
	}
	if mutated {
		e.invalidateForces()
	}
}

// closeMatchingPatrols closes any open patrol for the pilot across all
// forces.
func (e *Engine) closeMatchingPatrols(ctx context.Context, accountID string, now time.Time) {
	mutated := false
	for _, force := range e.loadForces(ctx) {
		if !hasOpenPatrol(&force, accountID) {
			continue
		}
		if err := e.forces.ClosePatrol(ctx, force.ID, accountID, now); err != nil {
			e.log.Errorw("Failed to close patrol", "force", force.Name, "accountId", accountID, "error", err.Error())
			continue
		}
		e.log.Infow("Patrol ended", "force", force.Name, "accountId", accountID)
		mutated = true
	}
	if mutated {
		e.invalidateForces()
	}
}

// reevaluatePatrols handles a rename while online: an open patrol
// whose filter no longer matches is closed, and newly matching forces
// get a patrol opened.
func (e *Engine) reevaluatePatrols(ctx context.Context, accountID, callsign string, now time.Time) {
	mutated := false
	for _, force := range e.loadForces(ctx) {
		open := hasOpenPatrol(&force, accountID)
		matches := e.matcher.Matches(force.CallsignFilter, callsign)

		switch {
		case open && !matches:
			if err := e.forces.ClosePatrol(ctx, force.ID, accountID, now); err != nil {
				e.log.Errorw("Failed to close patrol", "force", force.Name, "accountId", accountID, "error", err.Error())
				continue
			}
			mutated = true
		case !open && matches:
			if err := e.forces.OpenPatrol(ctx, force.ID, accountID, callsign, now); err != nil {
				e.log.Errorw("Failed to open patrol", "force", force.Name, "accountId", accountID, "error", err.Error())
				continue
			}
			mutated = true
		}
	}
	if mutated {
		e.invalidateForces()
	}
}
