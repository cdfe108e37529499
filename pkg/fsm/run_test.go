package fsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/cache"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superfly/fsm"
)

// pipeline is a machine registered on a real FSM manager.
type pipeline struct {
	machine *Machine
	manager *fsm.Manager
	start   fsm.Start[ApodRequest, ApodResponse]
	cache   *cache.Service
}

func newPipeline(t *testing.T, src apod.Source, maxRetries int) *pipeline {
	t.Helper()
	ctx := context.Background()

	svc, err := cache.Open(cache.Config{Dir: filepath.Join(t.TempDir(), "image_cache")}, src)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	manager, err := fsm.New(fsm.Config{DBPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Shutdown(5 * time.Second) })

	machine := NewMachine(svc, maxRetries)
	start, _, err := machine.Register(ctx, manager)
	require.NoError(t, err)

	return &pipeline{machine: machine, manager: manager, start: start, cache: svc}
}

func (p *pipeline) run(t *testing.T, date string) (*ApodResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.machine.Run(ctx, p.manager, p.start, day(date))
}

func day(s string) time.Time {
	d, err := time.Parse(apod.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func assertStagingEmpty(t *testing.T, svc *cache.Service) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(svc.Dir(), ".staging"))
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_MissThenHit(t *testing.T) {
	src := &stubSource{result: &apod.Result{
		Title: "Pillars of Creation", MediaType: "image", ImageURL: "https://x/pillars.jpg", Data: []byte("pillars"),
	}}
	p := newPipeline(t, src, 3)

	first, err := p.run(t, "2023-01-01")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, StatusComplete, first.Status)

	second, err := p.run(t, "2023-01-02")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, first.FilePath, second.FilePath)

	files, err := p.cache.Files().List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assertStagingEmpty(t, p.cache)
}

func TestRun_ZeroRetriesStillRunsOnce(t *testing.T) {
	src := &stubSource{result: &apod.Result{
		Title: "Crab Nebula", MediaType: "image", ImageURL: "https://x/crab.png", Data: []byte("crab"),
	}}
	p := newPipeline(t, src, 0)

	resp, err := p.run(t, "2023-01-01")
	require.NoError(t, err)
	assert.NotZero(t, resp.RecordID)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestRun_UnsupportedMediaAborts(t *testing.T) {
	src := &stubSource{result: &apod.Result{
		Title: "Interactive", MediaType: "other", ImageURL: "https://x/app", Data: []byte("x"),
	}}
	p := newPipeline(t, src, 3)

	_, err := p.run(t, "2023-01-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedMedia))
	assert.Equal(t, int32(1), src.calls.Load())

	titles, err := p.cache.ListAllTitles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, titles)
	assertStagingEmpty(t, p.cache)
}

func TestRun_StorageFailureDiscardsStaging(t *testing.T) {
	src := &stubSource{result: &apod.Result{
		Title: "Blocked", MediaType: "image", ImageURL: "https://x/blocked.jpg", Data: []byte("bytes"),
	}}
	p := newPipeline(t, src, 3)
	require.NoError(t, os.Mkdir(filepath.Join(p.cache.Dir(), "Blocked.jpg"), 0755))

	_, err := p.run(t, "2023-01-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageFailure))
	assertStagingEmpty(t, p.cache)
}

func TestRun_RemoteFetchRetriedThenSurfaced(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("connection reset")}
	p := newPipeline(t, src, 1)

	_, err := p.run(t, "2023-01-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteFetch))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRun_ZeroRetriesFailsAfterOneAttempt(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("connection reset")}
	p := newPipeline(t, src, 0)

	_, err := p.run(t, "2023-01-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteFetch))
	assert.Equal(t, int32(1), src.calls.Load())
}
