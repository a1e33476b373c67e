package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/library"
	"github.com/jmylchreest/encodr/internal/media"
	"github.com/jmylchreest/encodr/internal/models"
)

const filmID = "movies/film.mkv"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter() (*chi.Mux, huma.API) {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	return router, api
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.DeviceProfile{}, &models.DeviceCapabilities{}, &models.TranscodeSession{}))
	return db
}

// staticProber reports every file as a 2 hour 1080p h264/aac movie.
type staticProber struct{}

func (staticProber) ProbeSource(_ context.Context, id, path string) (*media.Source, error) {
	return &media.Source{
		ID:           id,
		Path:         path,
		Protocol:     media.ProtocolFile,
		Container:    "mkv",
		VideoType:    media.VideoFile,
		Bitrate:      media.Ptr(5_192_000),
		RunTimeTicks: media.Ptr(media.DurationToTicks(2 * time.Hour)),
		Streams: []media.Stream{
			{
				Type:             media.StreamVideo,
				Index:            0,
				Codec:            "h264",
				Profile:          "High",
				Level:            media.Ptr(41.0),
				Width:            media.Ptr(1920),
				Height:           media.Ptr(1080),
				BitRate:          media.Ptr(5_000_000),
				AverageFrameRate: media.Ptr(23.976),
				BitDepth:         media.Ptr(8),
				RefFrames:        media.Ptr(4),
				IsAnamorphic:     media.Ptr(false),
				IsCabac:          media.Ptr(true),
			},
			{
				Type:       media.StreamAudio,
				Index:      1,
				Codec:      "aac",
				Channels:   media.Ptr(2),
				SampleRate: media.Ptr(48000),
				BitRate:    media.Ptr(192_000),
				Language:   "eng",
			},
		},
	}, nil
}

// newTestBuilder returns a builder over a library holding filmID, writing
// output below a fresh directory.
func newTestBuilder(t *testing.T) *encoding.Builder {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "movies"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(filmID)), []byte("video"), 0o644))

	lib, err := library.New(root, staticProber{})
	require.NoError(t, err)
	return encoding.NewBuilder(lib, ffmpeg.NewPlanner("ffmpeg"), t.TempDir()).WithLogger(quietLogger())
}

func videoRequest(deviceID string) map[string]any {
	return map[string]any{
		"itemId":        filmID,
		"deviceId":      deviceID,
		"playSessionId": "ps-1",
		"audioCodec":    "aac",
		"video":         map[string]any{"videoCodec": "h264"},
	}
}
