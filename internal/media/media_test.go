package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch_DownloadsIntoSpool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/42.mp3", r.URL.Path)
		_, _ = w.Write([]byte("ID3 audio bytes"))
	}))
	defer ts.Close()

	spool := NewSpool(filepath.Join(t.TempDir(), "spool"))
	f := NewFetcher(ts.URL+"/media/", spool, 5*time.Second)

	p, err := f.Fetch(context.Background(), &models.ContentItem{ID: 42, SourceURL: "42.mp3"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, spool.Dir()))
	assert.Equal(t, ".mp3", filepath.Ext(p))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "ID3 audio bytes", string(data))
}

func TestFetch_MissingSourceIsPrecondition(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, NewSpool(t.TempDir()), 5*time.Second)
	_, err := f.Fetch(context.Background(), &models.ContentItem{ID: 7})
	require.ErrorIs(t, err, ErrSourceMissing)
	assert.Equal(t, models.ErrorKindPrecondition, models.KindOf(err))
}

func TestFetch_ServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, NewSpool(t.TempDir()), 5*time.Second)
	_, err := f.Fetch(context.Background(), &models.ContentItem{ID: 7})
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindTransient, models.KindOf(err))
}

func TestSourceURL(t *testing.T) {
	f := NewFetcher("https://cdn.example.com/", nil, time.Second)

	u, err := f.SourceURL(&models.ContentItem{ID: 1, SourceURL: "https://other.example.com/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/a.mp4", u)

	u, err = f.SourceURL(&models.ContentItem{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/9", u)

	_, err = NewFetcher("", nil, time.Second).SourceURL(&models.ContentItem{ID: 9})
	require.ErrorIs(t, err, ErrSourceMissing)
}

func TestSpool_Cleanup(t *testing.T) {
	spool := NewSpool(filepath.Join(t.TempDir(), "spool"))
	f, err := spool.Create("a-*.wav")
	require.NoError(t, err)
	_, _ = f.Write(make([]byte, 2048))
	require.NoError(t, f.Close())

	dir, err := spool.TempDir("job-*")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w0.wav"), make([]byte, 1024), 0o644))

	size, files, err := spool.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(3072), size)
	assert.Equal(t, 2, files)

	freed, err := spool.Cleanup(quietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(3072), freed)
	_, err = os.Stat(spool.Dir())
	assert.True(t, os.IsNotExist(err))

	// Cleaning an absent spool is a no-op.
	freed, err = spool.Cleanup(quietLogger())
	require.NoError(t, err)
	assert.Zero(t, freed)
}

func TestCutter_Args(t *testing.T) {
	var gotName string
	var gotArgs []string
	c := NewCutter("/usr/bin/ffmpeg").WithRunner(func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	})

	require.NoError(t, c.Cut(context.Background(), "in.mp3", 590, 610.5, "out.wav"))
	assert.Equal(t, "/usr/bin/ffmpeg", gotName)
	assert.Contains(t, strings.Join(gotArgs, " "), "-ss 590.000 -t 610.500 -i in.mp3")
	assert.Equal(t, "out.wav", gotArgs[len(gotArgs)-1])
}

func TestCutter_Errors(t *testing.T) {
	c := NewCutter("ffmpeg").WithRunner(func(context.Context, string, ...string) error {
		return errors.New("exit status 1: invalid data")
	})
	err := c.Cut(context.Background(), "in.mp3", 0, 10, "out.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data")

	require.Error(t, c.Cut(context.Background(), "in.mp3", 0, 0, "out.wav"))
	require.Error(t, c.Cut(context.Background(), "in.mp3", -1, 5, "out.wav"))
}
