// Package datasets keeps the local cache of training datasets fetched from
// content gateways.
package datasets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/decloud-network/validator/gateway"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
	"github.com/decloud-network/validator/util"
)

const partialPrefix = ".part-"

// Record is the externally visible state of a catalog entry.
type Record struct {
	Info
	Installed bool   `json:"installed"`
	LocalPath string `json:"local_path,omitempty"`
}

// Result describes a finished download request.
type Result struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	Size           uint64 `json:"size"`
	Gateway        string `json:"gateway,omitempty"`
	AlreadyPresent bool   `json:"already_present"`
}

// BatchResult aggregates the outcome of a batch download. Failures of single
// datasets never abort the batch.
type BatchResult struct {
	Downloaded []string         `json:"downloaded"`
	Present    []string         `json:"present"`
	Skipped    []string         `json:"skipped"`
	Failed     map[string]error `json:"-"`
}

// WriteBack receives the sorted set of installed datasets whenever it changes.
type WriteBack func(installed []string) error

type Option func(*Manager)

// WithInstalled seeds the manager with the installed set persisted by the
// config store. Entries are only adopted if their files are present.
func WithInstalled(names []string) Option {
	return func(m *Manager) { m.seed = names }
}

func WithWriteBack(fn WriteBack) Option {
	return func(m *Manager) { m.writeBack = fn }
}

// WithManifest uses m instead of loading one according to the config.
func WithManifest(manifest *Manifest) Option {
	return func(m *Manager) { m.manifest = manifest }
}

// WithGatewayOptions passes options to the gateway pool.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(m *Manager) { m.gatewayOpts = append(m.gatewayOpts, opts...) }
}

// Manager tracks which datasets are installed and downloads missing ones.
type Manager struct {
	cfg         Config
	pool        *gateway.Pool
	gatewayOpts []gateway.Option
	manifest    *Manifest
	db          *database
	seed        []string
	writeBack   WriteBack
	logger      *zap.Logger

	// shared fetches run on ctx so one caller going away does not abort
	// the others. Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group

	mu      sync.RWMutex
	records map[string]installRecord
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	ctx, logger := logging.Named(ctx, "datasets")
	m := &Manager{
		cfg:       cfg,
		records:   make(map[string]installRecord),
		writeBack: func([]string) error { return nil },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(logging.NewContext(context.WithoutCancel(ctx), logger))
	if m.cfg.Workers <= 0 {
		m.cfg.Workers = 1
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		m.cancel()
		return nil, types.E(types.KindConfiguration, "datasets", fmt.Errorf("creating data dir: %w", err))
	}

	gwOpts := append([]gateway.Option{
		gateway.WithAttemptTimeout(cfg.AttemptTimeout),
		gateway.WithObserver(observeAttempt),
	}, m.gatewayOpts...)
	pool, err := gateway.New(cfg.Gateways, gwOpts...)
	if err != nil {
		m.cancel()
		return nil, err
	}
	m.pool = pool

	if m.manifest == nil {
		manifest, err := loadManifest(ctx, cfg, pool)
		if err != nil {
			m.cancel()
			return nil, types.E(types.KindConfiguration, "datasets", err)
		}
		m.manifest = manifest
	}

	db, err := newDatabase(cfg.dbPath())
	if err != nil {
		m.cancel()
		return nil, err
	}
	m.db = db
	if err := m.restore(); err != nil {
		m.cancel()
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) Close() error {
	m.cancel()
	return m.db.Close()
}

func observeAttempt(gw gateway.Gateway, err error, _ time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrIntegrity):
		result = "integrity"
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	default:
		result = "error"
	}
	gatewayAttemptsMetric.WithLabelValues(gw.Name, result).Inc()
}

// restore loads persisted records, drops those whose files vanished and
// adopts datasets from the seeded installed set.
func (m *Manager) restore() error {
	records, err := m.db.All()
	if err != nil {
		return err
	}
	changed := false
	for _, rec := range records {
		if ok, _ := util.FileExists(rec.LocalPath); !ok {
			m.logger.Info("dataset file missing, marking not installed", zap.String("dataset", rec.Name))
			if err := m.db.Delete(rec.Name); err != nil {
				return err
			}
			changed = true
			continue
		}
		m.records[rec.Name] = rec
	}

	for _, name := range m.seed {
		if _, ok := m.records[name]; ok {
			continue
		}
		if _, ok := Lookup(name); !ok {
			m.logger.Warn("ignoring unknown dataset in installed set", zap.String("dataset", name))
			changed = true
			continue
		}
		rec, ok := m.adopt(name)
		if !ok {
			changed = true
			continue
		}
		if err := m.db.Put(rec); err != nil {
			return err
		}
		m.records[name] = rec
	}

	if changed {
		m.notify()
	}
	return nil
}

// adopt looks for a complete file of name in its dataset directory.
func (m *Manager) adopt(name string) (installRecord, bool) {
	return locate(m.cfg.DataDir, name)
}

// Present reports whether dataDir holds a complete file for name. It does
// not consult the cache database, so it is safe to call while another
// process holds the cache open.
func Present(dataDir, name string) bool {
	_, ok := locate(dataDir, name)
	return ok
}

func locate(dataDir, name string) (installRecord, bool) {
	dir := filepath.Join(dataDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return installRecord{}, false
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		return installRecord{
			Name:        name,
			LocalPath:   filepath.Join(dir, e.Name()),
			Size:        uint64(info.Size()),
			InstalledAt: info.ModTime().Unix(),
		}, true
	}
	return installRecord{}, false
}

// IsDownloaded reports whether name is installed and its file is present.
// A missing file flips the record back to not installed.
func (m *Manager) IsDownloaded(name string) bool {
	m.mu.RLock()
	rec, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	exists, err := util.FileExists(rec.LocalPath)
	if err != nil {
		m.logger.Warn("checking dataset file", zap.String("dataset", name), zap.Error(err))
		return false
	}
	if !exists {
		m.logger.Info("dataset file disappeared, marking not installed", zap.String("dataset", name))
		m.forget(name, rec)
		return false
	}
	return true
}

func (m *Manager) forget(name string, expected installRecord) {
	m.mu.Lock()
	current, ok := m.records[name]
	if !ok || current.LocalPath != expected.LocalPath || current.InstalledAt != expected.InstalledAt {
		m.mu.Unlock()
		return
	}
	delete(m.records, name)
	err := m.db.Delete(name)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("failed to delete dataset record", zap.String("dataset", name), zap.Error(err))
	}
	m.notify()
}

func (m *Manager) install(rec installRecord) error {
	m.mu.Lock()
	err := m.db.Put(rec)
	if err == nil {
		m.records[rec.Name] = rec
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) notify() {
	if err := m.writeBack(m.Installed()); err != nil {
		m.logger.Warn("failed to write back installed datasets", zap.Error(err))
	}
}

// Installed returns the sorted names of installed datasets.
func (m *Manager) Installed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Record returns the state of one dataset.
func (m *Manager) Record(name string) (Record, error) {
	info, ok := Lookup(name)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", types.ErrUnknownDataset, name)
	}
	return m.record(info), nil
}

func (m *Manager) record(info Info) Record {
	r := Record{Info: info, Installed: m.IsDownloaded(info.Name)}
	if r.Installed {
		m.mu.RLock()
		r.LocalPath = m.records[info.Name].LocalPath
		m.mu.RUnlock()
	}
	return r
}

// ListDatasets returns every catalog entry with its installed state.
func (m *Manager) ListDatasets() []Record {
	catalog := Catalog()
	out := make([]Record, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, m.record(info))
	}
	return out
}

// ListCategories returns dataset names grouped by category.
func (m *Manager) ListCategories() map[Category][]string {
	out := make(map[Category][]string)
	for _, info := range Catalog() {
		out[info.Category] = append(out[info.Category], info.Name)
	}
	return out
}

// EstimateTotalSize sums the estimated sizes of all catalog entries.
func (m *Manager) EstimateTotalSize() uint64 {
	var total uint64
	for _, info := range Catalog() {
		total += info.EstimatedSize
	}
	return total
}

// Download fetches name unless it is already installed. Concurrent calls for
// the same dataset share a single fetch.
func (m *Manager) Download(ctx context.Context, name string) (*Result, error) {
	info, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownDataset, name)
	}
	if res, ok := m.present(name); ok {
		return res, nil
	}

	ch := m.flight.DoChan(name, func() (any, error) {
		// re-check, a previous flight may have finished meanwhile
		if res, ok := m.present(name); ok {
			return res, nil
		}
		return m.fetch(m.ctx, info)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) present(name string) (*Result, bool) {
	if !m.IsDownloaded(name) {
		return nil, false
	}
	m.mu.RLock()
	rec := m.records[name]
	m.mu.RUnlock()
	return &Result{Name: name, Path: rec.LocalPath, Size: rec.Size, AlreadyPresent: true}, true
}

func (m *Manager) fetch(ctx context.Context, info Info) (*Result, error) {
	logger := m.logger.With(zap.String("dataset", info.Name))
	src, ok := m.manifest.Source(info.Name)
	if !ok {
		downloadsMetric.WithLabelValues("no_source").Inc()
		return nil, fmt.Errorf("%w: %s", types.ErrNoSource, info.Name)
	}
	digest, err := src.expectedDigest()
	if err != nil {
		downloadsMetric.WithLabelValues("invalid_source").Inc()
		return nil, types.E(types.KindIntegrity, "download "+info.Name, err)
	}

	dir := filepath.Join(m.cfg.DataDir, info.Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating dataset dir: %w", err)
	}
	filename := filepath.Base(src.Filename)
	if src.Filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = info.Name + ".bin"
	}
	final := filepath.Join(dir, filename)

	logger.Info("downloading dataset", zap.String("cid", src.CID), zap.Uint64("size", src.Size))
	start := time.Now()
	var sum []byte
	var size uint64
	gw, err := m.pool.Fetch(logging.NewContext(ctx, logger), src.CID, func(_ gateway.Gateway, body io.Reader) error {
		n, s, err := receive(dir, final, body, src.Size, digest)
		size, sum = n, s
		return err
	})
	if err != nil {
		downloadsMetric.WithLabelValues("failed").Inc()
		logger.Error("dataset download failed", zap.Error(err))
		return nil, fmt.Errorf("downloading %s: %w", info.Name, err)
	}
	downloadDurationMetric.Observe(time.Since(start).Seconds())

	rec := installRecord{
		Name:        info.Name,
		LocalPath:   final,
		Size:        size,
		Digest:      sum,
		Gateway:     gw.Name,
		InstalledAt: time.Now().Unix(),
	}
	if err := m.install(rec); err != nil {
		downloadsMetric.WithLabelValues("failed").Inc()
		return nil, err
	}
	downloadsMetric.WithLabelValues("ok").Inc()
	logger.Info("dataset installed", zap.String("path", final), zap.String("gateway", gw.Name))
	return &Result{Name: info.Name, Path: final, Size: size, Gateway: gw.Name}, nil
}

// receive streams body into a temporary file and moves it to final only
// after size and digest checks pass.
func receive(dir, final string, body io.Reader, size uint64, digest []byte) (uint64, []byte, error) {
	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return 0, nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	reader := body
	if size > 0 {
		reader = io.LimitReader(body, int64(size)+1)
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("receiving content: %w", err)
	}
	sum := hasher.Sum(nil)

	switch {
	case n == 0:
		return 0, nil, fmt.Errorf("%w: empty content", types.ErrIntegrity)
	case size > 0 && uint64(n) != size:
		return 0, nil, fmt.Errorf("%w: got %d bytes, expected %d", types.ErrIntegrity, n, size)
	case digest != nil && !bytes.Equal(sum, digest):
		return 0, nil, fmt.Errorf("%w: sha256 mismatch", types.ErrIntegrity)
	}

	if err := tmp.Sync(); err != nil {
		return 0, nil, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return 0, nil, fmt.Errorf("moving dataset into place: %w", err)
	}
	return uint64(n), sum, nil
}

// Remove deletes an installed dataset and its record.
func (m *Manager) Remove(name string) error {
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDataset, name)
	}
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.records, name)
	err := m.db.Delete(name)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.Remove(rec.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing dataset file: %w", err)
	}
	m.logger.Info("dataset removed", zap.String("dataset", name))
	m.notify()
	return nil
}

// DownloadCategory downloads every dataset of category.
func (m *Manager) DownloadCategory(ctx context.Context, category Category, skipLarge bool) (*BatchResult, error) {
	if _, ok := ParseCategory(string(category)); !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownCategory, category)
	}
	var names []string
	for _, info := range Catalog() {
		if info.Category == category {
			names = append(names, info.Name)
		}
	}
	return m.downloadMany(ctx, names, skipLarge)
}

// DownloadMinimal downloads the small starter pack.
func (m *Manager) DownloadMinimal(ctx context.Context) (*BatchResult, error) {
	var names []string
	for _, info := range Catalog() {
		if info.Minimal {
			names = append(names, info.Name)
		}
	}
	return m.downloadMany(ctx, names, false)
}

// DownloadAll downloads the whole catalog, optionally skipping large datasets.
func (m *Manager) DownloadAll(ctx context.Context, skipLarge bool) (*BatchResult, error) {
	var names []string
	for _, info := range Catalog() {
		names = append(names, info.Name)
	}
	return m.downloadMany(ctx, names, skipLarge)
}

func (m *Manager) downloadMany(ctx context.Context, names []string, skipLarge bool) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]error)}
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(m.cfg.Workers)

	for _, name := range names {
		name := name
		info, _ := Lookup(name)
		if skipLarge && m.cfg.LargeThreshold > 0 && info.EstimatedSize > m.cfg.LargeThreshold && !m.IsDownloaded(name) {
			result.Skipped = append(result.Skipped, name)
			continue
		}
		eg.Go(func() error {
			res, err := m.Download(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed[name] = err
			case res.AlreadyPresent:
				result.Present = append(result.Present, name)
			default:
				result.Downloaded = append(result.Downloaded, name)
			}
			return nil
		})
	}
	eg.Wait()

	sort.Strings(result.Downloaded)
	sort.Strings(result.Present)
	failed := make([]string, 0, len(result.Failed))
	for name := range result.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	var errs *multierror.Error
	for _, name := range failed {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, result.Failed[name]))
	}
	return result, errs.ErrorOrNil()
}
