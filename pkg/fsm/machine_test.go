package fsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/cache"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/hasher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	result *apod.Result
	err    error
	calls  atomic.Int32
}

func (s *stubSource) Fetch(_ context.Context, date time.Time) (*apod.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Date = date.Format(apod.DateLayout)
	return &r, nil
}

func newTestMachine(t *testing.T, src apod.Source) (*Machine, *cache.Service) {
	t.Helper()
	svc, err := cache.Open(cache.Config{Dir: filepath.Join(t.TempDir(), "image_cache")}, src)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return NewMachine(svc, 3), svc
}

// runSteps drives the steps in order the way the registered FSM does.
func runSteps(t *testing.T, m *Machine, req *ApodRequest) (*ApodResponse, error) {
	t.Helper()
	ctx := context.Background()
	resp := &ApodResponse{}
	for _, fn := range []step{m.fetch, m.hash, m.store, m.complete} {
		if err := fn(ctx, req, resp); err != nil {
			m.discardStaging(resp)
			return resp, err
		}
	}
	return resp, nil
}

func TestSteps_StoreNewImage(t *testing.T) {
	data := []byte("nebula bytes")
	m, svc := newTestMachine(t, &stubSource{result: &apod.Result{
		Title: "Horsehead Nebula", MediaType: "image", ImageURL: "https://x/horsehead.jpg", Data: data,
	}})

	req := &ApodRequest{RunID: "2023-01-01-run", Date: "2023-01-01"}
	resp, err := runSteps(t, m, req)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, resp.Status)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, hasher.Hash(data), resp.ContentHash)
	assert.Equal(t, filepath.Join(svc.Dir(), "Horsehead_Nebula.jpg"), resp.FilePath)
	assert.Empty(t, resp.StagingPath)

	rec, err := svc.GetRecord(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01", rec.APODDate)

	staged, err := os.ReadDir(filepath.Join(svc.Dir(), ".staging"))
	require.NoError(t, err)
	assert.Empty(t, staged)

	result, ok := m.results[req.RunID]
	require.True(t, ok)
	assert.Equal(t, resp.RecordID, result.RecordID)
}

func TestSteps_CacheHitSkipsStore(t *testing.T) {
	src := &stubSource{result: &apod.Result{
		Title: "Repeat", MediaType: "image", ImageURL: "https://x/repeat.png", Data: []byte("repeat"),
	}}
	m, svc := newTestMachine(t, src)

	first, err := runSteps(t, m, &ApodRequest{RunID: "a", Date: "2023-01-01"})
	require.NoError(t, err)

	src.result.Title = "Repeat Again"
	second, err := runSteps(t, m, &ApodRequest{RunID: "b", Date: "2023-01-02"})
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, first.FilePath, second.FilePath)

	files, err := svc.Files().List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSteps_UnsupportedMediaIsPermanent(t *testing.T) {
	m, svc := newTestMachine(t, &stubSource{result: &apod.Result{
		Title: "Applet", MediaType: "other", ImageURL: "https://x/applet", Data: []byte("x"),
	}})

	_, err := runSteps(t, m, &ApodRequest{RunID: "c", Date: "2023-01-01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedMedia))
	assert.True(t, permanent(err))

	titles, err := svc.ListAllTitles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestSteps_RemoteFetchIsRetried(t *testing.T) {
	m, _ := newTestMachine(t, &stubSource{err: fmt.Errorf("timeout")})

	_, err := runSteps(t, m, &ApodRequest{RunID: "d", Date: "2023-01-01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteFetch))
	assert.False(t, permanent(err))
}

func TestSteps_InvalidDateIsPermanent(t *testing.T) {
	m, _ := newTestMachine(t, &stubSource{})

	err := m.fetch(context.Background(), &ApodRequest{RunID: "e", Date: "yesterday"}, &ApodResponse{})
	require.Error(t, err)
	assert.True(t, permanent(err))
}

func TestSteps_TamperedStagingIsRejected(t *testing.T) {
	m, svc := newTestMachine(t, &stubSource{result: &apod.Result{
		Title: "Tamper", MediaType: "image", ImageURL: "https://x/t.jpg", Data: []byte("original"),
	}})
	ctx := context.Background()
	req := &ApodRequest{RunID: "f", Date: "2023-01-01"}
	resp := &ApodResponse{}

	require.NoError(t, m.fetch(ctx, req, resp))
	require.NoError(t, m.hash(ctx, req, resp))
	require.NoError(t, os.WriteFile(resp.StagingPath, []byte("modified"), 0644))

	err := m.store(ctx, req, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageFailure))

	titles, err := svc.ListAllTitles(ctx)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestFail_DiscardsStagingAndRecordsError(t *testing.T) {
	m, svc := newTestMachine(t, nil)

	staging, err := svc.Files().StagingPath("g.jpg")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(staging, []byte("partial"), 0644))

	req := &ApodRequest{RunID: "g", Date: "2023-01-01"}
	resp := &ApodResponse{StagingPath: staging}
	cause := errors.Ef(errors.KindStorageFailure, errors.StageStore, "disk full")

	err = m.fail(req, resp, cause)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.ErrorMessage, "disk full")
	assert.Equal(t, cause, m.lastFailure("g"))
	_, statErr := os.Stat(staging)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.E(errors.KindUnsupportedMedia, errors.StageFetch, nil), true},
		{errors.E(errors.KindStorageFailure, errors.StageStore, nil), true},
		{errors.E(errors.KindDuplicateHash, errors.StageIndex, nil), true},
		{errors.E(errors.KindRemoteFetch, errors.StageFetch, nil), false},
		{errors.E(errors.KindIndexFailure, errors.StageIndex, nil), false},
		{fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, permanent(tt.err), "permanent(%v)", tt.err)
	}
}

func TestNewRunID(t *testing.T) {
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	a, b := NewRunID(date), NewRunID(date)

	assert.True(t, strings.HasPrefix(a, "2024-03-09-"))
	assert.NotEqual(t, a, b)
}
