package atexec

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// AdminShare is the share the share-back retriever reads from
const AdminShare = "ADMIN$"

type retriever interface {
	retrieve(ctx context.Context, ch Channel, tempFile string, log *zap.Logger) ([]byte, error)
}

// shareBackRetriever reads %windir%\Temp\<tmp> through ADMIN$, waiting
// while cmd.exe still holds the file or has not created it, then deletes
// it.
type shareBackRetriever struct {
	clock  clockwork.Clock
	policy Policy
}

func (r *shareBackRetriever) retrieve(ctx context.Context, ch Channel, tempFile string, log *zap.Logger) ([]byte, error) {
	path := `Temp\` + tempFile
	log = log.With(zap.String("share", AdminShare), zap.String("path", path))

	var out []byte
	err := retry(ctx, r.clock, r.policy, StageShareRead, func(attempt int) (bool, error) {
		data, err := ch.ReadFile(ctx, AdminShare, path)
		if err == nil {
			out = data
			return true, nil
		}
		var se *ShareError
		if errors.As(err, &se) && se.Transient() {
			log.Debug("output not ready", zap.Int("attempt", attempt), zap.Stringer("reason", se.Kind))
			return false, se
		}
		return false, &RetrievalError{Mode: ModeShareBack, Path: path, Err: err}
	})
	if err != nil {
		return nil, err
	}

	if err := ch.DeleteFile(ctx, AdminShare, path); err != nil {
		log.Warn("failed to delete output file", zap.Error(err))
		return out, &CleanupError{Op: "delete output", Path: AdminShare + `\` + path, Output: out, Err: err}
	}
	return out, nil
}

// filelessRetriever reads <dir>/<tmp> from the local directory behind the
// caller's share. The file is left in place.
type filelessRetriever struct {
	fs     afero.Fs
	dir    string
	clock  clockwork.Clock
	policy Policy
}

// notReady is a local read that may succeed later
type notReady struct{ error }

func (notReady) Transient() bool { return true }

func (r *filelessRetriever) retrieve(ctx context.Context, _ Channel, tempFile string, log *zap.Logger) ([]byte, error) {
	path := filepath.Join(r.dir, tempFile)
	log = log.With(zap.String("path", path))

	var out []byte
	err := retry(ctx, r.clock, r.policy, StageLocalRead, func(attempt int) (bool, error) {
		data, err := afero.ReadFile(r.fs, path)
		switch {
		case err == nil:
			out = data
			return true, nil
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			log.Debug("output not ready", zap.Int("attempt", attempt), zap.Error(err))
			return false, notReady{err}
		}
		return false, &RetrievalError{Mode: ModeFileless, Path: path, Err: err}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
