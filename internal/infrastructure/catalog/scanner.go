// Package catalog builds the video index from media directories on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidstream/internal/core/domain"
	"vidstream/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// videoNamespace scopes the name-based UUIDs of catalog entries.
var videoNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("vidstream:video"))

// Scanner walks media roots and collects files with the configured extension.
type Scanner struct {
	roots     []string
	extension string
	logger    *zap.SugaredLogger
}

func NewScanner(roots []string, extension string, logger *zap.SugaredLogger) *Scanner {
	ext := strings.ToLower(extension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Scanner{roots: roots, extension: ext, logger: logger}
}

// Scan returns every matching regular file under the roots, ordered by
// title. Unreadable entries are logged and skipped; a missing root is an
// error only when no root could be read.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Video, error) {
	found := make(map[domain.VideoID]domain.Video)
	var rootErrs []error

	for _, root := range s.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			rootErrs = append(rootErrs, err)
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			s.logger.Warnw("media root unavailable", "root", abs, "error", err)
			rootErrs = append(rootErrs, err)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				s.logger.Debugw("skipping unreadable entry", "path", path, "error", err)
				return nil
			}
			if !d.Type().IsRegular() || !strings.HasSuffix(strings.ToLower(d.Name()), s.extension) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				s.logger.Debugw("skipping entry without info", "path", path, "error", err)
				return nil
			}

			title := utils.SanitizeString(d.Name())
			if title == "" {
				title = d.Name()
			}
			video := domain.Video{
				ID:        StableID(path),
				Title:     title,
				Path:      path,
				Size:      info.Size(),
				MediaType: s.extension,
				Modified:  info.ModTime(),
			}
			found[video.ID] = video
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			rootErrs = append(rootErrs, err)
		}
	}

	if len(rootErrs) > 0 && len(rootErrs) == len(s.roots) {
		return nil, fmt.Errorf("no media root readable: %w", errors.Join(rootErrs...))
	}

	videos := make([]domain.Video, 0, len(found))
	for _, v := range found {
		videos = append(videos, v)
	}
	SortVideos(videos)

	s.logger.Infow("catalog scanned", "roots", len(s.roots), "videos", len(videos))
	return videos, nil
}

// StableID derives a video id from its absolute path.
func StableID(path string) domain.VideoID {
	return domain.VideoID(uuid.NewSHA1(videoNamespace, []byte(path)).String())
}

// SortVideos orders videos by title, then id.
func SortVideos(videos []domain.Video) {
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].Title == videos[j].Title {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].Title < videos[j].Title
	})
}

// OpenSource opens the bytes behind a catalog entry.
func OpenSource(video domain.Video) (io.ReadCloser, error) {
	f, err := os.Open(video.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceRead, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceRead, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", domain.ErrSourceRead, video.Path)
	}
	return f, nil
}
