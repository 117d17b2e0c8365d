// Package engine assembles the supervision and alarm components around the shared caches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	alarmhttp "plantwatch/internal/alarms/interfaces/http"
	"plantwatch/internal/alarms/notify"
	aliveapp "plantwatch/internal/alive/application"
	alive "plantwatch/internal/alive/domain"
	apihttp "plantwatch/internal/api/http"
	"plantwatch/internal/archive"
	"plantwatch/internal/audit"
	"plantwatch/internal/cache"
	commandsapp "plantwatch/internal/commands/application"
	commands "plantwatch/internal/commands/domain"
	commandshttp "plantwatch/internal/commands/interfaces/http"
	"plantwatch/internal/config"
	"plantwatch/internal/daq"
	"plantwatch/internal/observability/metrics"
	"plantwatch/internal/scan"
	supervisionapp "plantwatch/internal/supervision/application"
	supervision "plantwatch/internal/supervision/domain"
	supervisionhttp "plantwatch/internal/supervision/interfaces/http"
	tagsapp "plantwatch/internal/tags/application"
	tags "plantwatch/internal/tags/domain"
	tagshttp "plantwatch/internal/tags/interfaces/http"
)

const (
	scanAlive       = "alive-timers"
	scanOscillation = "alarm-oscillation"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Snapshot restores last-known state at startup.
type Snapshot interface {
	Alarms() (map[string]alarms.Alarm, error)
	Tags() (map[string]tags.Tag, error)
}

// Options carries the optional collaborators of an engine.
type Options struct {
	Logger       *zap.Logger
	Clock        Clock
	Communicator daq.Communicator
	Marker       scan.Marker
	Sinks        []archive.Sink
	Snapshot     Snapshot
	Audit        audit.Logger
	Notifiers    []alarmapp.AlarmNotifier
}

// Engine owns the caches and the components wired around them.
type Engine struct {
	Records  *cache.Cache[string, supervision.Record]
	Tags     *cache.Cache[string, tags.Tag]
	Timers   *cache.Cache[string, alive.Timer]
	Alarms   *cache.Cache[string, alarms.Alarm]
	Commands *cache.Cache[string, commands.CommandTag]

	Supervision *supervisionapp.Facade
	Monitor     *aliveapp.Monitor
	TagService  *tagsapp.Service
	Evaluator   *alarmapp.Evaluator
	Aggregator  *alarmapp.Aggregator
	Checker     *alarmapp.OscillationChecker
	Manager     *commandsapp.Manager
	Broker      *alarmhttp.SSEBroker

	recorder     *archive.Recorder
	webhook      *notify.Notifier
	runners      []*scan.Runner
	communicator daq.Communicator
	processIDs   []string
	logger       *zap.Logger
}

// New builds an engine from a validated model. Caches are populated before any listener is
// registered so loading the configuration publishes nothing.
func New(ctx context.Context, cfg config.Config, model config.Model, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	communicator := opts.Communicator
	if communicator == nil {
		communicator = daq.Offline{}
	}
	marker := opts.Marker
	if marker == nil {
		marker = scan.NewMemoryMarker()
	}
	lockTimeout := cfg.Engine.LockTimeout

	e := &Engine{
		Records: cache.New("supervision",
			cache.WithFlow[string, supervision.Record](supervision.EventFlow),
			cache.WithValidator[string, supervision.Record](supervision.Record.Validate),
			cache.WithLockTimeout[string, supervision.Record](lockTimeout),
			cache.WithLogger[string, supervision.Record](logger),
		),
		Tags: cache.New("tags",
			cache.WithValidator[string, tags.Tag](tags.Tag.Validate),
			cache.WithLockTimeout[string, tags.Tag](lockTimeout),
			cache.WithLogger[string, tags.Tag](logger),
		),
		Timers: cache.New("alive-timers",
			cache.WithValidator[string, alive.Timer](alive.Timer.Validate),
			cache.WithLockTimeout[string, alive.Timer](lockTimeout),
			cache.WithLogger[string, alive.Timer](logger),
		),
		Alarms: cache.New("alarms",
			cache.WithValidator[string, alarms.Alarm](alarms.Alarm.Validate),
			cache.WithLockTimeout[string, alarms.Alarm](lockTimeout),
			cache.WithLogger[string, alarms.Alarm](logger),
		),
		Commands: cache.New("commands",
			cache.WithValidator[string, commands.CommandTag](commands.CommandTag.Validate),
			cache.WithLogger[string, commands.CommandTag](logger),
		),
		communicator: communicator,
		logger:       logger,
	}

	if err := e.load(ctx, model, opts.Snapshot); err != nil {
		return nil, err
	}
	if err := e.build(cfg, opts, marker); err != nil {
		return nil, err
	}
	if err := e.wire(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context, model config.Model, snapshot Snapshot) error {
	restoredAlarms, restoredTags, err := restore(snapshot)
	if err != nil {
		return err
	}
	for _, record := range model.Records {
		if err := e.Records.Put(ctx, record.Ref().Key(), record); err != nil {
			return fmt.Errorf("engine: load record %s: %w", record.Ref(), err)
		}
		if record.Kind == supervision.KindProcess {
			e.processIDs = append(e.processIDs, record.ID)
		}
	}
	for _, tag := range model.Tags {
		if last, ok := restoredTags[tag.ID]; ok && tag.Kind == tags.KindData {
			tag.Value = last.Value
			tag.ValueDescription = last.ValueDescription
			tag.Quality = last.Quality
			tag.SourceTime = last.SourceTime
			tag.DAQTime = last.DAQTime
			tag.ServerTime = last.ServerTime
		}
		if err := e.Tags.Put(ctx, tag.ID, tag); err != nil {
			return fmt.Errorf("engine: load tag %s: %w", tag.ID, err)
		}
	}
	for _, timer := range model.Timers {
		if err := e.Timers.Put(ctx, timer.ID, timer); err != nil {
			return fmt.Errorf("engine: load timer %s: %w", timer.ID, err)
		}
	}
	for _, alarm := range model.Alarms {
		if last, ok := restoredAlarms[alarm.ID]; ok && last.TagID == alarm.TagID {
			alarm.State = last.State
			alarm.Info = last.Info
			alarm.Timestamp = last.Timestamp
			alarm.SourceTimestamp = last.SourceTimestamp
			alarm.Published = last.Published
			alarm.Oscillation = last.Oscillation
		}
		if err := e.Alarms.Put(ctx, alarm.ID, alarm); err != nil {
			return fmt.Errorf("engine: load alarm %s: %w", alarm.ID, err)
		}
		if alarm.Oscillating() {
			metrics.AddOscillating(1)
		}
	}
	for _, command := range model.Commands {
		if err := e.Commands.Put(ctx, command.ID, command); err != nil {
			return fmt.Errorf("engine: load command %s: %w", command.ID, err)
		}
	}
	e.logger.Info("caches loaded",
		zap.Int("records", e.Records.Len()),
		zap.Int("tags", e.Tags.Len()),
		zap.Int("alarms", e.Alarms.Len()),
		zap.Int("restored_alarms", len(restoredAlarms)),
		zap.Int("commands", e.Commands.Len()),
	)
	return nil
}

func restore(snapshot Snapshot) (map[string]alarms.Alarm, map[string]tags.Tag, error) {
	if snapshot == nil {
		return nil, nil, nil
	}
	restoredAlarms, err := snapshot.Alarms()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: restore alarms: %w", err)
	}
	restoredTags, err := snapshot.Tags()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: restore tags: %w", err)
	}
	return restoredAlarms, restoredTags, nil
}

func (e *Engine) build(cfg config.Config, opts Options, marker scan.Marker) error {
	var clockOpts struct {
		supervision []supervisionapp.FacadeOption
		cascader    []supervisionapp.CascaderOption
		alive       []aliveapp.Option
		tags        []tagsapp.Option
		evaluator   []alarmapp.EvaluatorOption
		commands    []commandsapp.Option
		scan        []scan.Option
	}
	if opts.Clock != nil {
		clockOpts.supervision = append(clockOpts.supervision, supervisionapp.WithClock(opts.Clock))
		clockOpts.cascader = append(clockOpts.cascader, supervisionapp.WithCascaderClock(opts.Clock))
		clockOpts.alive = append(clockOpts.alive, aliveapp.WithClock(opts.Clock))
		clockOpts.tags = append(clockOpts.tags, tagsapp.WithClock(opts.Clock))
		clockOpts.evaluator = append(clockOpts.evaluator, alarmapp.WithClock(opts.Clock))
		clockOpts.commands = append(clockOpts.commands, commandsapp.WithClock(opts.Clock))
		clockOpts.scan = append(clockOpts.scan, scan.WithClock(opts.Clock))
	}

	lock, err := supervisionapp.NewHierarchyLock(e.Records, cfg.Engine.LockTimeout)
	if err != nil {
		return err
	}
	cascader, err := supervisionapp.NewCascader(e.Records, e.Tags, e.Timers, lock,
		append(clockOpts.cascader, supervisionapp.WithCascaderLogger(e.logger))...)
	if err != nil {
		return err
	}
	e.Supervision, err = supervisionapp.NewFacade(e.Records, cascader,
		append(clockOpts.supervision, supervisionapp.WithLogger(e.logger))...)
	if err != nil {
		return err
	}
	e.Monitor, err = aliveapp.NewMonitor(e.Timers, e.Supervision,
		append(clockOpts.alive, aliveapp.WithLogger(e.logger))...)
	if err != nil {
		return err
	}
	e.TagService, err = tagsapp.NewService(e.Tags, e.Monitor, e.Supervision,
		append(clockOpts.tags, tagsapp.WithLogger(e.logger))...)
	if err != nil {
		return err
	}

	e.Evaluator, err = alarmapp.NewEvaluator(e.Alarms,
		append(clockOpts.evaluator, alarmapp.WithPolicy(cfg.Engine.Oscillation), alarmapp.WithLogger(e.logger))...)
	if err != nil {
		return err
	}
	notifiers, err := e.notifiers(cfg, opts)
	if err != nil {
		return err
	}
	appender := supervisionapp.NewAppender(e.Records)
	e.Aggregator, err = alarmapp.NewAggregator(e.Evaluator,
		alarmapp.WithAppender(appender),
		alarmapp.WithNotifier(notifiers),
		alarmapp.WithAggregatorLogger(e.logger),
	)
	if err != nil {
		return err
	}
	e.Checker, err = alarmapp.NewOscillationChecker(e.Alarms, e.Tags, e.Evaluator,
		alarmapp.WithCheckerAppender(appender),
		alarmapp.WithCheckerNotifier(notifiers),
		alarmapp.WithCheckerLogger(e.logger),
	)
	if err != nil {
		return err
	}

	commandOpts := append(clockOpts.commands, commandsapp.WithLogger(e.logger))
	if opts.Audit != nil {
		commandOpts = append(commandOpts, commandsapp.WithAuditLogger(opts.Audit))
	}
	e.Manager, err = commandsapp.NewManager(e.Commands, e.Supervision, e.communicator, commandOpts...)
	if err != nil {
		return err
	}

	aliveRunner, err := scan.NewRunner(scanAlive, cfg.Engine.AliveScanPeriod, e.Monitor.Scan, marker,
		append(clockOpts.scan, scan.WithInitialDelay(cfg.Engine.AliveScanDelay), scan.WithLogger(e.logger))...)
	if err != nil {
		return err
	}
	checkerRunner, err := scan.NewRunner(scanOscillation, cfg.Engine.OscillationCheckPeriod,
		func(ctx context.Context, _ time.Time) (int, error) { return e.Checker.Scan(ctx) }, marker,
		append(clockOpts.scan, scan.WithInitialDelay(cfg.Engine.OscillationCheckDelay), scan.WithLogger(e.logger))...)
	if err != nil {
		return err
	}
	e.runners = []*scan.Runner{aliveRunner, checkerRunner}
	return nil
}

// notifiers builds the alarm fan-out: SSE clients, the archive and the optional webhook.
func (e *Engine) notifiers(cfg config.Config, opts Options) (*notify.MultiNotifier, error) {
	e.Broker = alarmhttp.NewSSEBroker(e.logger)
	list := []alarmapp.AlarmNotifier{e.Broker}

	if len(opts.Sinks) > 0 {
		sink := archive.Sink(archive.NewMulti(opts.Sinks...))
		if len(opts.Sinks) == 1 {
			sink = opts.Sinks[0]
		}
		recorder, err := archive.NewRecorder(sink,
			archive.WithQueueSize(cfg.Engine.ArchiveQueueSize),
			archive.WithLogger(e.logger),
		)
		if err != nil {
			return nil, err
		}
		e.recorder = recorder
		list = append(list, recorder)
	}

	if cfg.Notify.WebhookURL != "" {
		webhookOpts := []notify.WebhookOption{notify.WithRetry(3, time.Second)}
		if cfg.Notify.Markdown {
			webhookOpts = append(webhookOpts, notify.WithMarkdown())
		}
		channel, err := notify.NewWebhookChannel(cfg.Notify.WebhookURL, webhookOpts...)
		if err != nil {
			return nil, err
		}
		tpl, err := notify.NewTemplate(notify.DefaultTemplate)
		if err != nil {
			return nil, err
		}
		notifierOpts := []notify.Option{
			notify.WithLogger(e.logger),
			notify.WithEscalation(cfg.Notify.EscalationAfter),
			notify.WithCooldown(cfg.Notify.Cooldown),
		}
		if base := cfg.Notify.ConsoleBaseURL; base != "" {
			notifierOpts = append(notifierOpts, notify.WithConsoleURLResolver(func(_ context.Context, alarm alarms.Alarm, _ *tags.Tag) string {
				return base + "/alarms/" + alarm.ID
			}))
		}
		e.webhook, err = notify.NewNotifier(e.Evaluator, e.TagService, channel, tpl, notifierOpts...)
		if err != nil {
			return nil, err
		}
		list = append(list, e.webhook)
	}

	list = append(list, opts.Notifiers...)
	return notify.NewMultiNotifier(e.logger, list...), nil
}

// wire registers the cache listeners that form the synchronous call chain.
func (e *Engine) wire() error {
	trigger, err := alarmapp.NewSupervisionTrigger(e.Tags, e.Aggregator, e.logger)
	if err != nil {
		return err
	}
	e.Tags.RegisterListener(cache.EventUpdated, e.Aggregator.TagListener())
	e.Records.RegisterListener(cache.EventSupervisionChange, trigger.Listener())

	if e.recorder != nil {
		e.Records.RegisterListener(cache.EventSupervisionUpdate, e.recorder.SupervisionListener())
		e.Aggregator.RegisterListener(e.recorder)
	}
	return nil
}

// Routes returns the operator API route groups.
func (e *Engine) Routes() ([]apihttp.RouteRegistrar, error) {
	alarmsHandler, err := alarmhttp.NewHandler(e.Evaluator, e.Broker)
	if err != nil {
		return nil, err
	}
	supervisionHandler, err := supervisionhttp.NewHandler(e.Supervision)
	if err != nil {
		return nil, err
	}
	tagsHandler, err := tagshttp.NewHandler(e.TagService)
	if err != nil {
		return nil, err
	}
	commandsHandler, err := commandshttp.NewHandler(e.Manager)
	if err != nil {
		return nil, err
	}
	return []apihttp.RouteRegistrar{alarmsHandler, supervisionHandler, tagsHandler, commandsHandler}, nil
}

// Run subscribes to every process and runs the periodic scans and the archive until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for _, processID := range e.processIDs {
		if err := e.communicator.Subscribe(processID, e.handleUpdate); err != nil {
			e.unsubscribe()
			return fmt.Errorf("engine: subscribe %s: %w", processID, err)
		}
	}
	defer e.unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range e.runners {
		g.Go(func() error { return runner.Start(gctx) })
	}
	if e.recorder != nil {
		g.Go(func() error { return e.recorder.Run(gctx) })
	}
	e.logger.Info("engine started", zap.Int("processes", len(e.processIDs)))
	err := g.Wait()
	if e.webhook != nil {
		e.webhook.Close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) handleUpdate(ctx context.Context, update tags.Update) error {
	err := e.TagService.Update(ctx, update)
	if err != nil && !errors.Is(err, tags.ErrNotFound) {
		e.logger.Warn("tag update failed", zap.String("tag_id", update.TagID), zap.Error(err))
	}
	return err
}

func (e *Engine) unsubscribe() {
	for _, processID := range e.processIDs {
		if err := e.communicator.Unsubscribe(processID); err != nil && !errors.Is(err, daq.ErrNotSubscribed) {
			e.logger.Warn("unsubscribe failed", zap.String("process_id", processID), zap.Error(err))
		}
	}
}
