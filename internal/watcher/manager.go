// Package watcher runs the inspection pipeline over a folder of camera frames.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/imageproc"
	"lid-inspector/internal/plc"
	"lid-inspector/internal/service"
	"lid-inspector/internal/storage"
	"lid-inspector/internal/vision"
)

// Manager watches the frame folder, grades new frames and publishes verdicts.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Clear(ctx context.Context) error
	Status() Status
	Settings() domain.Settings
	UpdateSettings(ctx context.Context, settings domain.Settings) error
	Subscribe() (<-chan Event, func())
}

type ArchiveOptions struct {
	Bucket    string
	KeyPrefix string
}

type Config struct {
	WatchDir        string
	ResultsDir      string
	PollInterval    time.Duration
	StabilityWait   time.Duration
	UseNotify       bool
	DefaultSettings domain.Settings
	Archive         ArchiveOptions
	Logger          *logrus.Logger
}

// Status is a snapshot of the pipeline for operator displays.
type Status struct {
	WatchDir  string
	Current   string
	Last      *domain.Inspection
	Counters  domain.Counters
	Settings  domain.Settings
	Pending   int
	Processed int
	ClearedAt time.Time
}

type manager struct {
	cfg         Config
	classifier  vision.Classifier
	signaler    plc.Signaler
	inspections service.InspectionService
	storage     storage.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
	notify *fsnotify.Watcher

	// recordMu orders the last generation check and the insert against Clear,
	// so a superseded frame never lands in the new session.
	recordMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	processed  map[string]struct{}
	queue      []string
	current    string
	last       *domain.Inspection
	counters   domain.Counters
	settings   domain.Settings
	clearedAt  time.Time

	hub *hub
}

// NewManager builds a pipeline. store may be nil to disable archiving.
func NewManager(cfg Config, classifier vision.Classifier, signaler plc.Signaler, inspections service.InspectionService, store storage.Service) Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.StabilityWait <= 0 {
		cfg.StabilityWait = time.Second
	}
	if !cfg.DefaultSettings.Valid() {
		cfg.DefaultSettings = domain.Settings{Strictness: domain.DefaultStrictness}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:         cfg,
		classifier:  classifier,
		signaler:    signaler,
		inspections: inspections,
		storage:     store,
		wake:        make(chan struct{}, 1),
		processed:   make(map[string]struct{}),
		settings:    cfg.DefaultSettings,
		hub:         newHub(cfg.Logger),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WatchDir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	if m.cfg.ResultsDir != "" {
		if err := os.MkdirAll(m.cfg.ResultsDir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}

	if err := m.restore(ctx); err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.cfg.UseNotify {
		if err := m.startNotify(); err != nil {
			m.cfg.Logger.Warnf("filesystem notifications unavailable, polling only: %v", err)
		}
	}

	m.wg.Add(1)
	go m.run()

	m.cfg.Logger.Infof("watching %s every %s", m.cfg.WatchDir, m.cfg.PollInterval)
	return nil
}

// restore loads persisted settings, the session counters and the frames
// already inspected since the last clear.
func (m *manager) restore(ctx context.Context) error {
	state, err := m.inspections.LoadState(ctx, m.cfg.DefaultSettings)
	if err != nil {
		return fmt.Errorf("load runtime state: %w", err)
	}
	names, err := m.inspections.InspectedSince(ctx, state.ClearedAt)
	if err != nil {
		return fmt.Errorf("load inspected frames: %w", err)
	}
	stats, err := m.inspections.Stats(ctx, state.ClearedAt)
	if err != nil {
		return fmt.Errorf("load session stats: %w", err)
	}

	m.mu.Lock()
	m.settings = state.Settings
	m.clearedAt = state.ClearedAt
	for _, name := range names {
		m.processed[name] = struct{}{}
	}
	m.counters = domain.Counters{
		Accepted: stats.Accepted,
		Rejected: stats.Rejected + stats.Errored,
	}
	counters := m.counters
	m.mu.Unlock()

	m.signaler.SetCounters(counters)
	if len(names) > 0 {
		m.cfg.Logger.Infof("resuming session: %d frames already inspected", len(names))
	}
	return nil
}

func (m *manager) startNotify() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.cfg.WatchDir); err != nil {
		w.Close()
		return err
	}
	m.notify = w

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create|fsnotify.Write) && IsImage(ev.Name) {
					m.poke()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.cfg.Logger.Warnf("watch notification error: %v", err)
			}
		}
	}()
	return nil
}

func (m *manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.notify != nil {
		m.notify.Close()
	}
	m.wg.Wait()
	m.hub.close()
	m.cfg.Logger.Info("inspection watcher stopped")
}

func (m *manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.scan()
		m.drain()

		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

// scan enqueues every new, fully written frame in folder order.
func (m *manager) scan() {
	names, err := listImages(m.cfg.WatchDir)
	if err != nil {
		m.cfg.Logger.Errorf("scan: %v", err)
		return
	}

	m.mu.Lock()
	gen := m.generation
	var candidates []string
	for _, name := range names {
		if _, done := m.processed[name]; !done {
			candidates = append(candidates, filepath.Join(m.cfg.WatchDir, name))
		}
	}
	m.mu.Unlock()

	stable, err := stableFiles(m.ctx, candidates, m.cfg.StabilityWait)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		// cleared while waiting; the next scan starts over
		return
	}
	for _, path := range stable {
		name := filepath.Base(path)
		if _, done := m.processed[name]; done {
			continue
		}
		m.processed[name] = struct{}{}
		m.queue = append(m.queue, path)
	}
}

func (m *manager) drain() {
	for {
		if m.ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		path := m.queue[0]
		m.queue = m.queue[1:]
		gen := m.generation
		m.current = path
		settings := m.settings
		m.mu.Unlock()

		m.process(path, gen, settings)
	}
}

func (m *manager) process(path string, gen uint64, settings domain.Settings) {
	name := filepath.Base(path)
	logger := m.cfg.Logger.WithField("file", name)
	logger.Info("processing")

	in := &domain.Inspection{
		CorrelationID: uuid.NewString(),
		FileName:      name,
		Path:          path,
		Strictness:    settings.Strictness,
		NoBrand:       settings.NoBrand,
		Confidence:    -1,
	}

	res, err := m.analyze(m.ctx, path, settings)
	if err != nil {
		if m.ctx.Err() != nil {
			logger.Info("shutdown during analysis, frame left for next run")
			return
		}
		logger.Errorf("analysis: %v", err)
		in.Verdict = domain.VerdictError
		in.Reason = err.Error()
		in.ErrorMessage = err.Error()
	} else {
		in.Verdict = res.Verdict
		in.Reason = res.Reason
		in.Confidence = res.Confidence
		in.Model = res.Model
		in.RawResponse = res.Raw
		logger.Infof("result: %s %s", res.Verdict, res.Reason)
	}
	in.InspectedAt = time.Now()

	// a clear during analysis re-queues the frame; its verdict is dropped
	if m.superseded(gen) {
		logger.Info("session cleared mid-frame, verdict discarded")
		return
	}

	if err := m.signaler.Signal(in.Verdict); err != nil {
		logger.Errorf("signal verdict: %v", err)
	}

	counters, counted := m.count(gen, in.Verdict)
	if counted {
		m.signaler.SetCounters(counters)
	}

	if m.cfg.ResultsDir != "" {
		resultPath, err := writeResult(m.cfg.ResultsDir, in)
		if err != nil {
			logger.Warnf("write result file: %v", err)
		} else {
			in.ResultPath = resultPath
		}
	}

	// persistence must outlive a shutdown that lands mid-frame
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 10*time.Second)
	defer cancel()
	m.recordMu.Lock()
	if m.superseded(gen) {
		m.recordMu.Unlock()
		if in.ResultPath != "" {
			_ = os.Remove(in.ResultPath)
		}
		logger.Info("session cleared mid-frame, verdict discarded")
		return
	}
	err = m.inspections.Record(persistCtx, in)
	m.recordMu.Unlock()
	if err != nil {
		logger.Errorf("record inspection: %v", err)
	} else {
		m.archive(persistCtx, logger, in)
	}

	m.mu.Lock()
	if gen == m.generation {
		m.last = in
		m.current = ""
	}
	m.mu.Unlock()

	m.hub.publish(Event{Type: EventInspection, Inspection: in, Counters: counters, Settings: settings})
}

func (m *manager) superseded(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.generation
}

func (m *manager) analyze(ctx context.Context, path string, settings domain.Settings) (vision.Result, error) {
	img, err := imageproc.LoadImage(path)
	if err != nil {
		return vision.Result{}, err
	}
	cleaned := imageproc.RemoveGlare(img)
	return m.classifier.Classify(ctx, cleaned, settings)
}

// count applies a verdict to the session counters unless a clear happened
// since the frame was dequeued.
func (m *manager) count(gen uint64, verdict domain.Verdict) (domain.Counters, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return m.counters, false
	}
	if verdict.Accepted() {
		m.counters.Accepted++
	} else {
		m.counters.Rejected++
	}
	return m.counters, true
}

func (m *manager) archive(ctx context.Context, logger *logrus.Entry, in *domain.Inspection) {
	if m.storage == nil || m.cfg.Archive.Bucket == "" {
		return
	}
	// frame and verdict share one per-inspection prefix so a remote delete removes both
	dir := storage.JoinKey(m.cfg.Archive.KeyPrefix, in.InspectedAt.UTC().Format("2006-01-02"), in.CorrelationID)
	loc, err := m.storage.UploadFile(ctx, in.Path, storage.UploadOptions{
		Bucket:      m.cfg.Archive.Bucket,
		Key:         storage.JoinKey(dir, in.FileName),
		ContentType: contentType(in.FileName),
		Metadata: map[string]string{
			"verdict":    string(in.Verdict),
			"strictness": fmt.Sprint(in.Strictness),
		},
	})
	if err != nil {
		logger.Warnf("archive frame: %v", err)
		return
	}
	if data, err := encodeResult(in); err == nil {
		if _, err := m.storage.UploadBytes(ctx, data, storage.UploadOptions{
			Bucket:      m.cfg.Archive.Bucket,
			Key:         storage.JoinKey(dir, "verdict.json"),
			ContentType: "application/json",
		}); err != nil {
			logger.Warnf("archive verdict: %v", err)
		}
	}
	if err := m.inspections.MarkArchived(ctx, in.ID, loc); err != nil {
		logger.Warnf("mark archived: %v", err)
		return
	}
	in.S3Location = loc
	logger.Debugf("archived to %s", loc)
}

func (m *manager) Clear(ctx context.Context) error {
	m.recordMu.Lock()
	m.mu.Lock()
	m.generation++
	m.processed = make(map[string]struct{})
	m.queue = nil
	m.current = ""
	m.last = nil
	m.counters = domain.Counters{}
	m.clearedAt = time.Now()
	state := domain.RuntimeState{Settings: m.settings, ClearedAt: m.clearedAt}
	m.mu.Unlock()
	m.recordMu.Unlock()

	m.signaler.SetCounters(domain.Counters{})
	m.hub.publish(Event{Type: EventCleared, Settings: state.Settings})
	m.poke()

	if err := m.inspections.SaveState(ctx, state); err != nil {
		return fmt.Errorf("persist clear: %w", err)
	}
	m.cfg.Logger.Info("session cleared")
	return nil
}

func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		WatchDir:  m.cfg.WatchDir,
		Current:   m.current,
		Last:      m.last,
		Counters:  m.counters,
		Settings:  m.settings,
		Pending:   len(m.queue),
		Processed: len(m.processed),
		ClearedAt: m.clearedAt,
	}
}

func (m *manager) Settings() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// ErrInvalidSettings is returned when a strictness level is out of range.
var ErrInvalidSettings = errors.New("strictness must be between 1 and 5")

func (m *manager) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if !settings.Valid() {
		return ErrInvalidSettings
	}
	m.mu.Lock()
	m.settings = settings
	state := domain.RuntimeState{Settings: settings, ClearedAt: m.clearedAt}
	counters := m.counters
	m.mu.Unlock()

	m.hub.publish(Event{Type: EventSettings, Settings: settings, Counters: counters})
	if err := m.inspections.SaveState(ctx, state); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	m.cfg.Logger.Infof("settings changed: strictness=%d no_brand=%t", settings.Strictness, settings.NoBrand)
	return nil
}

func (m *manager) Subscribe() (<-chan Event, func()) {
	return m.hub.subscribe()
}

var _ Manager = (*manager)(nil)
