package jobs

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/batch"
	"osprey-eyes/mindseye/internal/db/repositories"
	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/geofs"
	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/models"
	"osprey-eyes/mindseye/internal/tracker"
)

// Schedule holds the cadences the orchestrator fires at. The tick
// bounds cadence for everything else: passes run inside the tick, in
// sequence, never concurrently with each other.
type Schedule struct {
	TickInterval     time.Duration
	LocationInterval time.Duration
	HourlyInterval   time.Duration
}

func (s Schedule) withDefaults() Schedule {
	if s.TickInterval == 0 {
		s.TickInterval = time.Second
	}
	if s.LocationInterval == 0 {
		s.LocationInterval = 30 * time.Minute
	}
	if s.HourlyInterval == 0 {
		s.HourlyInterval = time.Hour
	}
	return s
}

// CollectorJob is the top-level polling loop. It re-reads feature
// toggles every tick and triggers the diffing engine, chat fetch and
// the periodic snapshots at their respective cadences. It only ever
// enqueues toward the dispatch workers, never waits on them.
type CollectorJob struct {
	engine     *tracker.Engine
	chat       *geofs.ChatClient
	maps       *geofs.MapClient
	configRepo *repositories.ConfigRepository
	telemetry  *repositories.TelemetryRepository
	buffer     *batch.Buffer
	notifier   tracker.Notifier

	schedule    Schedule
	botCallsign string

	lastLocation time.Time
	lastCount    time.Time

	log *zap.SugaredLogger
}

func NewCollectorJob(
	engine *tracker.Engine,
	chat *geofs.ChatClient,
	maps *geofs.MapClient,
	configRepo *repositories.ConfigRepository,
	telemetry *repositories.TelemetryRepository,
	buffer *batch.Buffer,
	notifier tracker.Notifier,
	schedule Schedule,
	botCallsign string,
) *CollectorJob {
	return &CollectorJob{
		engine:      engine,
		chat:        chat,
		maps:        maps,
		configRepo:  configRepo,
		telemetry:   telemetry,
		buffer:      buffer,
		notifier:    notifier,
		schedule:    schedule.withDefaults(),
		botCallsign: botCallsign,
		log:         logging.WithComponent("collector_job"),
	}
}

// Run executes the tick loop until ctx is cancelled, then flushes the
// write buffer one last time so a clean shutdown does not lose the
// in-flight batch.
func (j *CollectorJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.schedule.TickInterval)
	defer ticker.Stop()

	j.log.Infow("Collector loop started", "tick", j.schedule.TickInterval.String())

	for {
		select {
		case <-ticker.C:
			j.tick(ctx)
		case <-ctx.Done():
			j.log.Infow("Collector loop stopping, flushing write buffer")
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			j.buffer.Flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// tick runs one orchestration pass. Nothing inside may take the
// process down: a panic is logged and the loop continues next tick.
func (j *CollectorJob) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Errorw("Recovered panic in collector tick", "panic", r)
		}
	}()

	toggles, err := j.configRepo.Load(ctx)
	if err != nil {
		j.log.Errorw("Failed to load feature toggles", "error", err.Error())
		return
	}

	if toggles.StoreUsers {
		if err := j.engine.RunCycle(ctx, toggles); err != nil {
			j.log.Errorw("Diffing pass failed", "error", err.Error())
		}
	}

	if toggles.SaveChatMessages {
		j.chatPass(ctx)
	}

	j.snapshotPasses(ctx, toggles)
}

// chatPass fetches new chat messages, persists them, and forwards bot
// mentions downstream.
func (j *CollectorJob) chatPass(ctx context.Context) {
	messages, err := j.chat.FetchMessages(ctx)
	if err != nil {
		j.log.Errorw("Chat fetch failed", "error", err.Error())
		return
	}
	if len(messages) == 0 {
		return
	}

	if err := j.telemetry.InsertChatMessages(ctx, messages); err != nil {
		j.log.Errorw("Failed to persist chat messages", "error", err.Error())
	}

	if j.botCallsign == "" {
		return
	}
	needle := strings.ToLower(j.botCallsign)
	for _, m := range messages {
		if !strings.Contains(strings.ToLower(m.Text), needle) {
			continue
		}
		j.notifier.Enqueue(dispatch.CategoryBotMention, dispatch.Payload{
			"acid":     m.AccountID,
			"callsign": m.Callsign,
			"msg":      m.Text,
		})
	}
}

// snapshotPasses handles the 30-minute location snapshot and the
// hourly online count. Both reuse a single fetch when due together.
func (j *CollectorJob) snapshotPasses(ctx context.Context, toggles models.Toggles) {
	now := time.Now()
	locationDue := toggles.AccumulateHeatMap && now.Sub(j.lastLocation) >= j.schedule.LocationInterval
	countDue := toggles.CountUsers && now.Sub(j.lastCount) >= j.schedule.HourlyInterval

	if !locationDue && !countDue {
		return
	}

	players, err := j.maps.GetPlayers(ctx, geofs.RealPlayersOnly)
	if err != nil {
		j.log.Errorw("Snapshot fetch for telemetry failed", "error", err.Error())
		return
	}

	if locationDue {
		points := make([]models.GeoPoint, len(players))
		for i, p := range players {
			points[i] = models.GeoPoint{Lat: p.Lat, Lon: p.Lon}
		}
		if err := j.telemetry.InsertLocationSnapshot(ctx, points); err != nil {
			j.log.Errorw("Failed to persist location snapshot", "error", err.Error())
		} else {
			j.lastLocation = now
		}
	}

	if countDue {
		if err := j.telemetry.InsertOnlineCount(ctx, len(players), now); err != nil {
			j.log.Errorw("Failed to persist online count", "error", err.Error())
		} else {
			j.lastCount = now
		}
	}
}
