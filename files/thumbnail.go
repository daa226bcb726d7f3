package files

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
)

const (
	thumbMaxWidth  = 480
	thumbMaxHeight = 480
	thumbQuality   = 80
)

// storeThumbnail decodes the image, fits it into the thumbnail box, and
// uploads a JPEG next to the original.
func (s *Storage) storeThumbnail(ctx context.Context, originalKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, thumbMaxWidth, thumbMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbQuality)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := thumbnailKey(originalKey)
	_, err = s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}
	return key, nil
}

func thumbnailKey(originalKey string) string {
	dir, name := path.Split(originalKey)
	name = strings.TrimSuffix(name, path.Ext(name))
	return dir + "thumb_" + name + ".jpg"
}
