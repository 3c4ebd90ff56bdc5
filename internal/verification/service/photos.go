package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"agegate/internal/imagequality"
	"agegate/internal/verification/models"
	dErrors "agegate/pkg/domain-errors"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9-]`)

var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

type validPhoto struct {
	side        models.Side
	data        []byte
	img         image.Image
	contentType string
}

// validatePhoto checks presence, encoded size, sniffed content type, decoded
// pixel count and that the bytes decode.
func (s *Service) validatePhoto(side models.Side, photo models.Photo) (*validPhoto, *models.Error) {
	label := side.Label()
	if photo.Empty() {
		return nil, models.NewError(models.KindInvalidImage, label+" photo is required")
	}
	if s.cfg.MaxPhotoBytes > 0 && len(photo.Data) > s.cfg.MaxPhotoBytes {
		return nil, models.NewError(models.KindInvalidImage,
			fmt.Sprintf("%s photo exceeds %s", label, byteSize(s.cfg.MaxPhotoBytes)))
	}
	contentType := http.DetectContentType(photo.Data)
	if _, ok := photoExtensions[contentType]; !ok {
		return nil, models.NewError(models.KindInvalidImage, label+" photo must be JPEG or PNG")
	}
	img, _, err := s.analyzer.Decode(photo.Data)
	switch {
	case errors.Is(err, imagequality.ErrTooLarge):
		return nil, models.NewError(models.KindInvalidImage, label+" photo is too large")
	case err != nil:
		return nil, models.NewError(models.KindInvalidImage, label+" photo is invalid or corrupted")
	}
	return &validPhoto{side: side, data: photo.Data, img: img, contentType: contentType}, nil
}

// storePhotos writes the accepted photos and points the subject at them.
func (s *Service) storePhotos(ctx context.Context, subject *models.Subject, front, back *validPhoto, now time.Time) error {
	ctx, end := s.stage(ctx, "store_photos")
	defer end()

	frontKey, err := s.putPhoto(ctx, subject, front, now)
	if err != nil {
		return err
	}
	subject.FrontPhotoKey = frontKey
	subject.BackPhotoKey = ""
	if back != nil {
		backKey, err := s.putPhoto(ctx, subject, back, now)
		if err != nil {
			return err
		}
		subject.BackPhotoKey = backKey
	}
	return nil
}

func (s *Service) putPhoto(ctx context.Context, subject *models.Subject, p *validPhoto, now time.Time) (string, error) {
	key := PhotoKey(subject.ID.String(), p.side, p.contentType, now)
	if err := s.photos.Put(ctx, key, p.data, p.contentType); err != nil {
		s.logger.ErrorContext(ctx, "failed to store ID photo",
			"subject_id", subject.ID.String(),
			"side", string(p.side),
			"error", err,
		)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store ID photo")
	}
	return key, nil
}

// PhotoKey names a stored ID photo:
//
//	<subject>_<side>_<yyyymmdd_hhmmss>_<8 hex>.<ext>
func PhotoKey(subject string, side models.Side, contentType string, now time.Time) string {
	ext, ok := photoExtensions[contentType]
	if !ok {
		ext = "bin"
	}
	safe := unsafeKeyChars.ReplaceAllString(subject, "_")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s.%s", safe, side, now.UTC().Format("20060102_150405"), suffix, ext)
}

func byteSize(n int) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
