package supervisor

import (
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/aescanero/dago-stream-watcher/internal/worker"
	"go.uber.org/zap"
)

// stuckSource never returns from a read until released and ignores Close
type stuckSource struct {
	release chan struct{}
}

func (s *stuckSource) IsOpen() bool { return true }

func (s *stuckSource) ReadFrame() (source.Frame, error) {
	<-s.release
	return source.Frame{}, &source.ReadError{Err: source.ErrClosed}
}

func (s *stuckSource) Close() error { return nil }

type stuckStarter struct {
	*worker.Factory
	release chan struct{}
}

func newStuckStarter() *stuckStarter {
	release := make(chan struct{})
	opener := source.OpenerFunc(func(string, source.Options) (source.Source, error) {
		return &stuckSource{release: release}, nil
	})
	return &stuckStarter{
		Factory: worker.NewFactory(worker.Deps{Opener: opener, Logger: zap.NewNop()}),
		release: release,
	}
}
