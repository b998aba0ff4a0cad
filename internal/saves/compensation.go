package saves

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"go.uber.org/zap"
)

// CleanupTask is the handle of a detached orphan-object delete.
type CleanupTask struct {
	key  string
	done chan struct{}
	once sync.Once
	err  error
}

// Done is closed once the delete attempt finished.
func (t *CleanupTask) Done() <-chan struct{} {
	return t.done
}

// Err reports the delete failure, if any. It is only meaningful after Done.
func (t *CleanupTask) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Key is the object key the task removes.
func (t *CleanupTask) Key() string {
	return t.key
}

func (t *CleanupTask) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

type uploadWaiter interface {
	Wait() error
}

// compensate deletes the object of a save that will never be committed. The
// delete waits for the in-flight put to settle so a late write cannot
// resurrect the object, and it runs detached from the caller.
func (s *Service) compensate(saveID string, upload uploadWaiter) *CleanupTask {
	task := &CleanupTask{key: blobstore.SaveKey(saveID), done: make(chan struct{})}
	s.cleanups.Add(1)
	go func() {
		defer s.cleanups.Done()
		if upload != nil {
			_ = upload.Wait()
		}
		ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
		defer cancel()

		err := s.blobs.Delete(ctx, task.key)
		switch {
		case err == nil:
			s.metrics.ObserveCompensation(metrics.CompensationOutcomeDeleted)
			s.logger.Info("orphaned save object deleted", zap.String(fieldSaveID, saveID))
			task.finish(nil)
		case errors.Is(err, blobstore.ErrObjectNotFound):
			s.metrics.ObserveCompensation(metrics.CompensationOutcomeMissing)
			task.finish(nil)
		default:
			s.metrics.ObserveCompensation(metrics.CompensationOutcomeFailed)
			s.logError(opCompensate, reasonObjectDeleteFailed, err,
				zap.String(fieldSaveID, saveID),
				zap.String("key", task.key))
			task.finish(err)
		}
	}()
	return task
}

// WaitForCleanup blocks until every detached cleanup finished or ctx ends.
func (s *Service) WaitForCleanup(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cleanups.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
