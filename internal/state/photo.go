package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
	"go.uber.org/zap"
)

// PhotoStore caches the photos of the party being viewed.
type PhotoStore struct {
	*Store[model.Photo]
	auth *AuthStore
}

// NewPhotoStore creates an empty photo store.
func NewPhotoStore(deps Deps, auth *AuthStore) *PhotoStore {
	return &PhotoStore{Store: NewStore[model.Photo]("photo", "photos", deps), auth: auth}
}

// Photos returns the cached photos, newest first.
func (s *PhotoStore) Photos() []model.Photo {
	return s.List()
}

// FetchPhotos replaces the cache with the photos of a party.
func (s *PhotoStore) FetchPhotos(ctx context.Context, partyID string) error {
	return s.run("fetchPhotos", func() error {
		photos, err := s.deps.Gateway.Photos().List(ctx, gateway.Where("party_id", partyID))
		if err != nil {
			return err
		}
		s.SetAll(photos)
		return nil
	})
}

// UploadPhoto reads the image at path, stores it in the photos bucket and
// posts it to the party.
func (s *PhotoStore) UploadPhoto(ctx context.Context, partyID, path, caption string) (model.Photo, error) {
	var photo model.Photo
	err := s.run("uploadPhoto", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		name := user.ID + "/" + uuid.NewString() + filepath.Ext(path)
		url, err := s.deps.Gateway.Upload(ctx, gateway.BucketPhotos, name, data)
		if err != nil {
			return err
		}
		photo, err = s.deps.Gateway.Photos().Create(ctx, model.Photo{
			PartyID: partyID,
			UserID:  user.ID,
			URL:     url,
			Caption: caption,
		})
		if err != nil {
			return err
		}
		s.Prepend(photo)
		return nil
	})
	return photo, err
}

// LikePhoto likes a photo as the current user and refreshes its like count.
// Liking a photo twice succeeds. A failed refresh after the like is logged.
func (s *PhotoStore) LikePhoto(ctx context.Context, photoID string) error {
	return s.run("likePhoto", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		_, err = s.deps.Gateway.Likes().Create(ctx, model.Like{PhotoID: photoID, UserID: user.ID})
		if err != nil && !errors.Is(err, gateway.ErrConflict) {
			return err
		}
		photo, err := s.deps.Gateway.Photos().Get(ctx, photoID)
		if err != nil {
			s.deps.Logger.Warn("refresh photo", zap.String("photo_id", photoID), zap.Error(err))
			return nil
		}
		s.Replace(photo)
		return nil
	})
}

// DeletePhoto removes a photo.
func (s *PhotoStore) DeletePhoto(ctx context.Context, id string) error {
	return s.run("deletePhoto", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		if err := s.deps.Gateway.Photos().Delete(ctx, id); err != nil {
			return err
		}
		s.Remove(id)
		return nil
	})
}

// Subscribe follows the photos of a party. It returns nil when the feed
// cannot be registered.
func (s *PhotoStore) Subscribe(ctx context.Context, partyID string, cb func(gateway.Change[model.Photo])) gateway.Subscription {
	return s.subscribe(ctx, s.deps.Gateway.Photos(), gateway.Where("party_id", partyID), cb)
}
