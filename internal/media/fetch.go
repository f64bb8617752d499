// Package media moves source audio into the local spool and cuts windows
// out of it with ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

var ErrSourceMissing = errors.New("source media not found")

// Fetcher downloads source media for a content item into the spool.
type Fetcher struct {
	baseURL string
	spool   *Spool
	client  *http.Client
}

func NewFetcher(baseURL string, spool *Spool, timeout time.Duration) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		spool:   spool,
		client:  &http.Client{Timeout: timeout},
	}
}

// SourceURL resolves where item's media lives. An absolute source_url wins;
// otherwise a relative one or the item id is resolved against the base URL.
func (f *Fetcher) SourceURL(item *models.ContentItem) (string, error) {
	src := item.SourceURL
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	if f.baseURL == "" {
		return "", fmt.Errorf("%w: content %d has no absolute source_url and MEDIA_BASE_URL is unset", ErrSourceMissing, item.ID)
	}
	if src == "" {
		src = strconv.FormatInt(item.ID, 10)
	}
	return f.baseURL + "/" + strings.TrimLeft(src, "/"), nil
}

// Fetch downloads item's media and returns the spool path. A missing source
// is a precondition failure; anything else is transient.
func (f *Fetcher) Fetch(ctx context.Context, item *models.ContentItem) (string, error) {
	u, err := f.SourceURL(item)
	if err != nil {
		return "", models.Precondition(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", models.Precondition(fmt.Errorf("building request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", models.Transient(fmt.Errorf("fetching %s: %w", u, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", models.Precondition(fmt.Errorf("%w: %s returned %d", ErrSourceMissing, u, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", models.Transient(fmt.Errorf("fetching %s: status %d", u, resp.StatusCode))
	}

	ext := path.Ext(req.URL.Path)
	if ext == "" || len(ext) > 6 {
		ext = ".audio"
	}
	out, err := f.spool.Create(fmt.Sprintf("content-%d-*%s", item.ID, ext))
	if err != nil {
		return "", models.Transient(err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(out.Name())
		return "", models.Transient(fmt.Errorf("downloading %s: %w", u, err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", models.Transient(fmt.Errorf("writing spool file: %w", err))
	}
	return filepath.Clean(out.Name()), nil
}
