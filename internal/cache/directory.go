package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
)

// Remote is the server side of the user directory.
type Remote interface {
	FetchProfile(ctx context.Context, user models.UserID) (models.Profile, error)
	ListUsers(ctx context.Context) ([]models.Profile, error)
}

// Directory answers profile lookups from the server and falls back to the
// cache when the server fails. Successful answers refresh the cache.
type Directory struct {
	remote Remote
	db     *DB
	log    zerolog.Logger
}

func NewDirectory(remote Remote, db *DB) *Directory {
	return &Directory{remote: remote, db: db, log: logging.Component("cache")}
}

func (d *Directory) FetchProfile(ctx context.Context, user models.UserID) (models.Profile, error) {
	p, err := d.remote.FetchProfile(ctx, user)
	if err == nil {
		if serr := d.db.SaveProfile(p); serr != nil {
			d.log.Warn().Err(serr).Msg("Failed to cache profile")
		}
		return p, nil
	}

	cached, cerr := d.db.Profile(user)
	if cerr != nil {
		return models.Profile{}, err
	}
	d.log.Debug().Err(err).Int64("user", int64(user)).Msg("Serving cached profile")
	return cached, nil
}

// ListUsers returns the directory. stale is true when the list came from
// the cache because the server could not be reached.
func (d *Directory) ListUsers(ctx context.Context) (users []models.Profile, stale bool, err error) {
	users, err = d.remote.ListUsers(ctx)
	if err == nil {
		if serr := d.db.SaveProfiles(users); serr != nil {
			d.log.Warn().Err(serr).Msg("Failed to cache directory")
		}
		return users, false, nil
	}

	cached, cerr := d.db.Profiles()
	if cerr != nil || len(cached) == 0 {
		return nil, false, err
	}
	d.log.Debug().Err(err).Int("users", len(cached)).Msg("Serving cached directory")
	return cached, true, nil
}

// Name returns the cached display name of user, or "" if unknown.
func (d *Directory) Name(user models.UserID) string {
	p, err := d.db.Profile(user)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.log.Warn().Err(err).Msg("Failed to read cached profile")
		}
		return ""
	}
	return p.DisplayName()
}
