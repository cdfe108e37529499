package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/cache"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/filestore"
	"github.com/apod-desktop/apod/pkg/hasher"
	"github.com/superfly/fsm"
)

var errInvalidRequest = errors.New("invalid request")

type step func(ctx context.Context, req *ApodRequest, resp *ApodResponse) error

// transition adapts a step to an FSM handler: it enforces the retry limit,
// aborts on permanent failures and lets everything else be retried.
func (m *Machine) transition(state string, fn step) func(context.Context, *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
	return func(ctx context.Context, req *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
		slog.Info("fsm_state_"+state, "run_id", req.Msg.RunID, "date", req.Msg.Date)

		resp := req.W.Msg
		if resp == nil {
			resp = &ApodResponse{}
		}

		// maxRetries counts attempts after the first one.
		if retryCount := fsm.RetryFromContext(ctx); retryCount > uint64(m.maxRetries) {
			slog.Error("max_retries_exceeded", "run_id", req.Msg.RunID, "state", state, "max_retries", m.maxRetries)
			err := fmt.Errorf("max retries (%d) exceeded in %s", m.maxRetries, state)
			if last := m.lastFailure(req.Msg.RunID); last != nil {
				err = last
			}
			return nil, m.fail(req.Msg, resp, err)
		}

		if err := fn(ctx, req.Msg, resp); err != nil {
			if permanent(err) {
				return nil, m.fail(req.Msg, resp, err)
			}
			slog.Warn("fsm_state_retry", "run_id", req.Msg.RunID, "state", state, "error", err)
			m.recordFailure(req.Msg.RunID, err)
			return nil, err
		}

		m.clearFailure(req.Msg.RunID)
		return fsm.NewResponse(resp), nil
	}
}

// fail discards staged bytes, records the failure and aborts the run.
func (m *Machine) fail(req *ApodRequest, resp *ApodResponse, err error) error {
	m.discardStaging(resp)
	resp.Status = StatusFailed
	resp.ErrorMessage = err.Error()
	m.recordFailure(req.RunID, err)
	slog.Error("fsm_run_failed", "run_id", req.RunID, "date", req.Date, "error", err)
	return fsm.Abort(err)
}

func (m *Machine) lastFailure(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[runID]
}

func (m *Machine) clearFailure(runID string) {
	m.mu.Lock()
	delete(m.failures, runID)
	m.mu.Unlock()
}

func (m *Machine) handleFetching(ctx context.Context, req *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
	return m.transition(StateFetching, m.fetch)(ctx, req)
}

func (m *Machine) handleHashing(ctx context.Context, req *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
	return m.transition(StateHashing, m.hash)(ctx, req)
}

func (m *Machine) handleStoring(ctx context.Context, req *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
	return m.transition(StateStoring, m.store)(ctx, req)
}

func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[ApodRequest, ApodResponse]) (*fsm.Response[ApodResponse], error) {
	return m.transition(StateComplete, m.complete)(ctx, req)
}

// fetch downloads metadata and bytes and parks the bytes in the staging area.
func (m *Machine) fetch(ctx context.Context, req *ApodRequest, resp *ApodResponse) error {
	date, err := time.Parse(apod.DateLayout, req.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	result, err := m.cache.Fetch(ctx, date)
	if err != nil {
		return err
	}

	staging, err := m.cache.Files().StagingPath(req.RunID + filestore.Extension(result.ImageURL))
	if err != nil {
		return err
	}
	if err := os.WriteFile(staging, result.Data, 0644); err != nil {
		slog.Error("staging_write_failed", "path", staging, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}

	resp.Title = result.Title
	resp.Explanation = result.Explanation
	resp.MediaType = result.MediaType
	resp.ImageURL = result.ImageURL
	resp.StagingPath = staging
	resp.Size = int64(len(result.Data))

	slog.Info("staging_complete", "run_id", req.RunID, "path", staging, "size", resp.Size)
	return nil
}

// hash digests the staged bytes and reports whether they are already cached.
func (m *Machine) hash(ctx context.Context, req *ApodRequest, resp *ApodResponse) error {
	digest, err := hasher.HashFile(resp.StagingPath)
	if err != nil {
		return errors.E(errors.KindStorageFailure, errors.StageHash, err)
	}
	resp.ContentHash = digest

	rec, err := m.cache.Lookup(ctx, digest)
	switch {
	case err == nil:
		resp.CacheHit = true
		resp.RecordID = rec.ID
		resp.FilePath = rec.FilePath
		slog.Info("cache_hit", "run_id", req.RunID, "image_id", rec.ID, "content_hash", digest[:16]+"...")
	case errors.IsNotFound(err):
		slog.Info("cache_miss", "run_id", req.RunID, "content_hash", digest[:16]+"...")
	default:
		return err
	}
	return nil
}

// store saves and indexes the staged bytes in one cache transaction. A hit
// found while hashing skips the write.
func (m *Machine) store(ctx context.Context, req *ApodRequest, resp *ApodResponse) error {
	if resp.CacheHit {
		return nil
	}

	data, err := os.ReadFile(resp.StagingPath)
	if err != nil {
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	if got := hasher.Hash(data); got != resp.ContentHash {
		return errors.Ef(errors.KindStorageFailure, errors.StageStore, "staged file changed: hash %s, want %s", got, resp.ContentHash)
	}

	meta := cache.Meta{
		Date:        req.Date,
		Title:       resp.Title,
		Explanation: resp.Explanation,
		MediaType:   resp.MediaType,
		ImageURL:    resp.ImageURL,
	}
	id, hit, err := m.cache.Store(ctx, meta, data)
	if err != nil {
		return err
	}

	rec, err := m.cache.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	resp.RecordID = id
	resp.CacheHit = hit
	resp.FilePath = rec.FilePath
	return nil
}

// complete drops the staged copy and publishes the result.
func (m *Machine) complete(ctx context.Context, req *ApodRequest, resp *ApodResponse) error {
	m.discardStaging(resp)
	resp.Status = StatusComplete
	m.recordResult(req.RunID, resp)

	slog.Info("fsm_run_complete",
		"run_id", req.RunID,
		"image_id", resp.RecordID,
		"cache_hit", resp.CacheHit,
		"path", resp.FilePath,
	)
	return nil
}

func (m *Machine) discardStaging(resp *ApodResponse) {
	if resp.StagingPath == "" {
		return
	}
	if err := os.Remove(resp.StagingPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("staging_cleanup_failed", "path", resp.StagingPath, "error", err)
		return
	}
	resp.StagingPath = ""
}
