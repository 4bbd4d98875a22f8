package datasets_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
)

func rawCID(t testing.TB, data []byte) string {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh).String()
}

// fakeGateway serves content by cid and counts requests.
type fakeGateway struct {
	srv     *httptest.Server
	hits    atomic.Int32
	handler func(w http.ResponseWriter, r *http.Request, cid string)
}

func newGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, cid string)) *fakeGateway {
	g := &fakeGateway{handler: handler}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.hits.Add(1)
		g.handler(w, r, strings.TrimPrefix(r.URL.Path, "/ipfs/"))
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) URL() string { return g.srv.URL + "/ipfs/" }

func serving(content map[string][]byte) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, c string) {
		data, ok := content[c]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}
}

func hanging(w http.ResponseWriter, r *http.Request, _ string) {
	<-r.Context().Done()
}

type fixture struct {
	manifest *datasets.Manifest
	content  map[string][]byte
}

func newFixture(t testing.TB, payloads map[string]string) *fixture {
	f := &fixture{
		manifest: &datasets.Manifest{Version: 1, Datasets: map[string]datasets.Source{}},
		content:  map[string][]byte{},
	}
	for name, payload := range payloads {
		data := []byte(payload)
		c := rawCID(t, data)
		f.content[c] = data
		f.manifest.Datasets[name] = datasets.Source{
			CID:      c,
			Size:     uint64(len(data)),
			Filename: strings.ToLower(name) + ".tar",
		}
	}
	return f
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func newManager(t *testing.T, cfg datasets.Config, opts ...datasets.Option) *datasets.Manager {
	t.Helper()
	m, err := datasets.New(testContext(t), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func config(t *testing.T, gateways ...string) datasets.Config {
	cfg := datasets.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Gateways = gateways
	cfg.AttemptTimeout = 2 * time.Second
	return cfg
}

func TestDownloadInstallsVerifiedContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Cifar10": "cifar payload"})
	gw := newGateway(t, serving(f.content))

	var written [][]string
	cfg := config(t, gw.URL())
	m := newManager(t, cfg, datasets.WithManifest(f.manifest), datasets.WithWriteBack(func(installed []string) error {
		written = append(written, installed)
		return nil
	}))

	require.False(t, m.IsDownloaded("Cifar10"))
	res, err := m.Download(testContext(t), "Cifar10")
	require.NoError(t, err)
	require.False(t, res.AlreadyPresent)
	require.Equal(t, uint64(len("cifar payload")), res.Size)
	require.Equal(t, filepath.Join(cfg.DataDir, "Cifar10", "cifar10.tar"), res.Path)
	require.True(t, m.IsDownloaded("Cifar10"))
	require.Equal(t, []string{"Cifar10"}, m.Installed())
	require.Equal(t, [][]string{{"Cifar10"}}, written)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "cifar payload", string(data))

	// a second request is served from the cache
	res, err = m.Download(testContext(t), "Cifar10")
	require.NoError(t, err)
	require.True(t, res.AlreadyPresent)
	require.Equal(t, int32(1), gw.hits.Load())

	rec, err := m.Record("Cifar10")
	require.NoError(t, err)
	require.True(t, rec.Installed)
	require.Equal(t, res.Path, rec.LocalPath)
}

func TestDownloadFailsOverOnCorruptContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Mnist": "mnist payload"})
	corrupt := newGateway(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte("mnist pAyload"))
	})
	good := newGateway(t, serving(f.content))

	m := newManager(t, config(t, corrupt.URL(), good.URL()), datasets.WithManifest(f.manifest))

	res, err := m.Download(testContext(t), "Mnist")
	require.NoError(t, err)
	require.True(t, m.IsDownloaded("Mnist"))
	require.Equal(t, good.srv.Listener.Addr().String(), res.Gateway)
	require.Equal(t, int32(1), corrupt.hits.Load())
	require.Equal(t, int32(1), good.hits.Load())
}

func TestDownloadRejectsWrongSize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Iris": "iris"})
	src := f.manifest.Datasets["Iris"]
	src.Size = 10
	f.manifest.Datasets["Iris"] = src
	gw := newGateway(t, serving(f.content))

	cfg := config(t, gw.URL())
	m := newManager(t, cfg, datasets.WithManifest(f.manifest))

	_, err := m.Download(testContext(t), "Iris")
	require.ErrorIs(t, err, types.ErrAllGatewaysFailed)
	require.ErrorIs(t, err, types.ErrIntegrity)
	require.False(t, m.IsDownloaded("Iris"))

	entries, err := os.ReadDir(filepath.Join(cfg.DataDir, "Iris"))
	require.NoError(t, err)
	require.Empty(t, entries, "partial downloads must be cleaned up")
}

func TestDownloadVerifiesManifestDigest(t *testing.T) {
	t.Parallel()
	payload := []byte("wine payload")
	other := sha256.Sum256([]byte("something else"))
	// a dag-pb cid carries no verifiable digest, the manifest one is used
	mh, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.DagProtobuf, mh).String()

	manifest := &datasets.Manifest{Datasets: map[string]datasets.Source{
		"Wine": {CID: c, Size: uint64(len(payload)), SHA256: hex.EncodeToString(other[:])},
	}}
	gw := newGateway(t, serving(map[string][]byte{c: payload}))
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(manifest))

	_, err = m.Download(testContext(t), "Wine")
	require.ErrorIs(t, err, types.ErrIntegrity)
	require.False(t, m.IsDownloaded("Wine"))
}

func TestDownloadSkipsTimedOutGateways(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Svhn": "svhn payload"})
	slow := []*fakeGateway{newGateway(t, hanging), newGateway(t, hanging), newGateway(t, hanging)}
	good := newGateway(t, serving(f.content))

	cfg := config(t, slow[0].URL(), slow[1].URL(), slow[2].URL(), good.URL())
	cfg.AttemptTimeout = 50 * time.Millisecond
	m := newManager(t, cfg, datasets.WithManifest(f.manifest))

	res, err := m.Download(testContext(t), "Svhn")
	require.NoError(t, err)
	require.Equal(t, good.srv.Listener.Addr().String(), res.Gateway)
	require.True(t, m.IsDownloaded("Svhn"))
	for _, gw := range slow {
		require.Equal(t, int32(1), gw.hits.Load())
	}
}

func TestDownloadAllGatewaysFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Kmnist": "kmnist"})
	down := newGateway(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m := newManager(t, config(t, down.URL(), down.URL()), datasets.WithManifest(f.manifest))

	_, err := m.Download(testContext(t), "Kmnist")
	require.ErrorIs(t, err, types.ErrAllGatewaysFailed)
	require.Equal(t, types.KindTransient, types.KindOf(err))
	require.Equal(t, int32(2), down.hits.Load())
	require.False(t, m.IsDownloaded("Kmnist"))
}

func TestDownloadErrors(t *testing.T) {
	t.Parallel()
	gw := newGateway(t, serving(nil))
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(&datasets.Manifest{}))

	_, err := m.Download(testContext(t), "NoSuchDataset")
	require.ErrorIs(t, err, types.ErrUnknownDataset)

	_, err = m.Download(testContext(t), "Cifar10")
	require.ErrorIs(t, err, types.ErrNoSource)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
	require.Zero(t, gw.hits.Load())
}

func TestConcurrentDownloadsAreCoalesced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Eurosat": "eurosat payload"})
	release := make(chan struct{})
	serve := serving(f.content)
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request, c string) {
		<-release
		serve(w, r, c)
	})
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(f.manifest))

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*datasets.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Download(testContext(t), "Eurosat")
		}()
	}

	require.Eventually(t, func() bool { return gw.hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	// give the remaining callers time to join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Path, results[i].Path)
	}
	require.Equal(t, int32(1), gw.hits.Load())
}

func TestJoinedDownloadSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Eurosat": "eurosat payload"})
	release := make(chan struct{})
	serve := serving(f.content)
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request, c string) {
		<-release
		serve(w, r, c)
	})
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(f.manifest))

	leaderCtx, cancel := context.WithCancel(testContext(t))
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.Download(leaderCtx, "Eurosat")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return gw.hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res *datasets.Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := m.Download(testContext(t), "Eurosat")
		follower <- outcome{res, err}
	}()
	// let the second caller join the in-flight fetch
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	require.FileExists(t, got.res.Path)
	require.True(t, m.IsDownloaded("Eurosat"))
	require.Equal(t, int32(1), gw.hits.Load())
}

func TestPresent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.False(t, datasets.Present(dir, "Titanic"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Titanic"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Titanic", ".part-titanic.bin"), []byte("tit"), 0o600))
	require.False(t, datasets.Present(dir, "Titanic"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Titanic", "titanic.bin"), []byte("titanic"), 0o600))
	require.True(t, datasets.Present(dir, "Titanic"))
}

func TestIsDownloadedSelfHeals(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Titanic": "titanic"})
	gw := newGateway(t, serving(f.content))

	var mu sync.Mutex
	var last []string
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(f.manifest), datasets.WithWriteBack(func(installed []string) error {
		mu.Lock()
		defer mu.Unlock()
		last = installed
		return nil
	}))

	res, err := m.Download(testContext(t), "Titanic")
	require.NoError(t, err)
	require.True(t, m.IsDownloaded("Titanic"))

	require.NoError(t, os.Remove(res.Path))
	require.False(t, m.IsDownloaded("Titanic"))
	require.Empty(t, m.Installed())
	mu.Lock()
	require.Empty(t, last)
	mu.Unlock()

	// it can be fetched again
	res, err = m.Download(testContext(t), "Titanic")
	require.NoError(t, err)
	require.False(t, res.AlreadyPresent)
	require.Equal(t, int32(2), gw.hits.Load())
}

func TestRecordsSurviveRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Wine": "wine"})
	gw := newGateway(t, serving(f.content))
	cfg := config(t, gw.URL())

	m, err := datasets.New(testContext(t), cfg, datasets.WithManifest(f.manifest))
	require.NoError(t, err)
	_, err = m.Download(testContext(t), "Wine")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m = newManager(t, cfg, datasets.WithManifest(f.manifest))
	require.True(t, m.IsDownloaded("Wine"))
	require.Equal(t, []string{"Wine"}, m.Installed())
}

func TestSeededInstalledSetIsVerified(t *testing.T) {
	t.Parallel()
	gw := newGateway(t, serving(nil))
	cfg := config(t, gw.URL())
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.DataDir, "Mnist"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "Mnist", "mnist.tar"), []byte("data"), 0o600))

	var written []string
	m := newManager(t, cfg,
		datasets.WithManifest(&datasets.Manifest{}),
		datasets.WithInstalled([]string{"Mnist", "Cifar10", "Bogus"}),
		datasets.WithWriteBack(func(installed []string) error {
			written = installed
			return nil
		}),
	)
	require.Equal(t, []string{"Mnist"}, m.Installed())
	require.Equal(t, []string{"Mnist"}, written)
	require.True(t, m.IsDownloaded("Mnist"))
	require.False(t, m.IsDownloaded("Cifar10"))
}

func TestRemove(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Sst2": "sst2"})
	gw := newGateway(t, serving(f.content))
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(f.manifest))

	res, err := m.Download(testContext(t), "Sst2")
	require.NoError(t, err)
	require.NoError(t, m.Remove("Sst2"))
	require.False(t, m.IsDownloaded("Sst2"))
	require.NoFileExists(t, res.Path)

	require.NoError(t, m.Remove("Sst2"), "removing twice is a no-op")
	require.ErrorIs(t, m.Remove("Nope"), types.ErrUnknownDataset)
}

func TestBatchContinuesPastFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Iris": "iris", "Wine": "wine", "Titanic": "titanic"})
	gw := newGateway(t, serving(f.content))
	cfg := config(t, gw.URL())
	cfg.Workers = 2
	m := newManager(t, cfg, datasets.WithManifest(f.manifest))

	_, err := m.Download(testContext(t), "Titanic")
	require.NoError(t, err)

	res, err := m.DownloadCategory(testContext(t), datasets.CategoryTabular, false)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrNoSource)
	require.Equal(t, []string{"Iris", "Wine"}, res.Downloaded)
	require.Equal(t, []string{"Titanic"}, res.Present)
	require.Len(t, res.Failed, 7)
	require.Contains(t, res.Failed, "Diabetes")

	_, err = m.DownloadCategory(testContext(t), datasets.Category("video"), false)
	require.ErrorIs(t, err, types.ErrUnknownCategory)
}

func TestDownloadMinimalAndSkipLarge(t *testing.T) {
	t.Parallel()
	gw := newGateway(t, serving(nil))
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(&datasets.Manifest{}))

	res, err := m.DownloadMinimal(testContext(t))
	require.Error(t, err)
	require.Len(t, res.Failed, 10)
	require.Contains(t, res.Failed, "Cifar10")
	require.Empty(t, res.Skipped)

	res, err = m.DownloadAll(testContext(t), true)
	require.Error(t, err)
	require.Contains(t, res.Skipped, "CommonVoice")
	require.NotContains(t, res.Skipped, "Iris")
	require.Equal(t, 98, len(res.Skipped)+len(res.Failed))
}

func TestListings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Cora": "cora"})
	gw := newGateway(t, serving(f.content))
	m := newManager(t, config(t, gw.URL()), datasets.WithManifest(f.manifest))
	_, err := m.Download(testContext(t), "Cora")
	require.NoError(t, err)

	records := m.ListDatasets()
	require.Len(t, records, 98)
	installed := 0
	for _, r := range records {
		if r.Installed {
			installed++
			require.Equal(t, "Cora", r.Name)
		}
	}
	require.Equal(t, 1, installed)

	categories := m.ListCategories()
	require.Equal(t, []string{"Cora", "Citeseer", "Qm9"}, categories[datasets.CategoryGraph])
	require.Greater(t, m.EstimateTotalSize(), uint64(90_000_000_000))
}
