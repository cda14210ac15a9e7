package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/changefeed"
)

type fileRecord struct {
	Token   []byte    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// FileStore keeps the token in a local JSON file. A missing file means no token.
type FileStore struct {
	Path     string
	Validate Validator
	Logger   *zap.Logger
}

func NewFileStore(path string, validate Validator, logger *zap.Logger) *FileStore {
	return &FileStore{
		Path:     path,
		Validate: validate,
		Logger:   logger.With(zap.String("component", "checkpoint"), zap.String("path", path)),
	}
}

func (f *FileStore) Load(context.Context) (changefeed.ResumeToken, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.Logger.Info("no resume token found")
			return nil, nil
		}
		return nil, errors.Wrap(err, "read resume token")
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil || len(rec.Token) == 0 {
		f.Logger.Warn("stored resume token is unreadable, configuration caches will be invalidated", zap.Error(err))
		return nil, nil
	}
	f.Logger.Info("resume token found", zap.Time("saved_at", rec.SavedAt))
	return checked(rec.Token, f.Validate, f.Logger), nil
}

// Save writes to a temporary file and renames it over the old one so a crash
// never leaves a half written token.
func (f *FileStore) Save(_ context.Context, token changefeed.ResumeToken) error {
	b, err := json.Marshal(fileRecord{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "encode resume token")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*")
	if err != nil {
		return errors.Wrap(err, "save resume token")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "save resume token")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "save resume token")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.Path), "save resume token")
}

func (f *FileStore) Close() error { return nil }
