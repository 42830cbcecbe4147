package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokorotts/kokoro-server/internal/audio"
	"github.com/kokorotts/kokoro-server/internal/config"
	"github.com/kokorotts/kokoro-server/internal/store"
	"github.com/kokorotts/kokoro-server/internal/tts"
)

var filenamePattern = regexp.MustCompile(`^kokoro_\d+\.wav$`)

// fakeSynth is a scriptable Synthesizer: it can fail a number of leading
// attempts, block until the context deadline, or write a real artifact.
type fakeSynth struct {
	available bool
	st        *store.Store
	samples   []float64
	failures  int // attempts that fail before one succeeds
	failErr   error
	block     bool // block until ctx is done

	mu      sync.Mutex
	calls   int
	lastJob tts.Job
}

func (f *fakeSynth) Available() bool { return f.available }

func (f *fakeSynth) Synthesize(ctx context.Context, job tts.Job) (string, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.lastJob = job
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	if calls <= f.failures {
		return "", f.failErr
	}

	name := f.st.NewFilename()
	if err := audio.WriteWAVFile(f.st.Path(name), f.samples, 24000); err != nil {
		return "", err
	}

	return name, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		MaxTextLength:       3000,
		SampleRate:          24000,
		DefaultVoice:        "af_heart",
		DefaultLang:         "f",
		DefaultSpeed:        1.0,
		SynthesisTimeoutSec: 1,
		CleanupDelaySec:     300,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, synth *fakeSynth) (*http.ServeMux, *store.Store) {
	t.Helper()

	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	synth.st = st

	h := NewHandler(cfg, synth, st, zerolog.Nop())
	mux := http.NewServeMux()
	h.Register(mux)

	return mux, st
}

func postTTS(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return resp
}

func TestSynthesize_Success(t *testing.T) {
	synth := &fakeSynth{available: true, samples: []float64{0.1, 0.2, 0.3}}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello world"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Regexp(t, filenamePattern, resp.Data.Filename)
	assert.Equal(t, "/download/"+resp.Data.Filename, resp.Data.DownloadURL)

	// Unset fields took the configured defaults.
	assert.Equal(t, "af_heart", synth.lastJob.Voice)
	assert.Equal(t, "f", synth.lastJob.Lang)
	assert.Equal(t, 1.0, synth.lastJob.Speed)
}

func TestSynthesize_ExplicitParameters(t *testing.T) {
	synth := &fakeSynth{available: true, samples: []float64{0.1}}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Bonjour","voice":"ff_siwis","lang":"f","speed":1.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "ff_siwis", synth.lastJob.Voice)
	assert.Equal(t, 1.5, synth.lastJob.Speed)
	assert.Equal(t, "Bonjour", synth.lastJob.Text)
}

func TestSynthesize_RejectsEmptyText(t *testing.T) {
	synth := &fakeSynth{available: true}
	mux, _ := newTestServer(t, testConfig(), synth)

	for _, body := range []string{
		`{"text":""}`,
		`{"text":"   \t\n "}`,
		`{}`,
		`not json at all`,
	} {
		rec := postTTS(t, mux, body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "body %q", body)

		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Nil(t, resp.Data)
	}

	assert.Zero(t, synth.calls, "validation failures must not invoke the engine")
}

func TestSynthesize_RejectsOversizedText(t *testing.T) {
	synth := &fakeSynth{available: true}
	mux, _ := newTestServer(t, testConfig(), synth)

	long := strings.Repeat("a", 3001)
	rec := postTTS(t, mux, `{"text":"`+long+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, synth.calls)

	// Exactly at the limit is accepted.
	synth.samples = []float64{0.1}
	rec = postTTS(t, mux, `{"text":"`+strings.Repeat("a", 3000)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSynthesize_EngineUnavailable(t *testing.T) {
	synth := &fakeSynth{available: false}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, synth.calls, "unavailable engine must never be invoked")
}

func TestSynthesize_Timeout(t *testing.T) {
	synth := &fakeSynth{available: true, block: true}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, 1, synth.calls, "timeouts must not be retried")
}

func TestSynthesize_RetriesOnceOnFailure(t *testing.T) {
	synth := &fakeSynth{
		available: true,
		samples:   []float64{0.1},
		failures:  1,
		failErr:   errors.New("engine context setup failed"),
	}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, synth.calls)
}

func TestSynthesize_FailsAfterRetry(t *testing.T) {
	synth := &fakeSynth{
		available: true,
		failures:  5,
		failErr:   errors.New("malformed voice name"),
	}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 2, synth.calls, "exactly one retry, no more")

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.NotContains(t, resp.Message, "malformed voice name",
		"raw engine errors must not be surfaced to the caller")
}

func TestDownload_RoundTrip(t *testing.T) {
	synth := &fakeSynth{available: true, samples: []float64{0.1, 0.2, 0.3, 0.4}}
	mux, _ := newTestServer(t, testConfig(), synth)

	rec := postTTS(t, mux, `{"text":"Hello world"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	req := httptest.NewRequest(http.MethodGet, resp.Data.DownloadURL, nil)
	dl := httptest.NewRecorder()
	mux.ServeHTTP(dl, req)

	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "audio/wav", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), resp.Data.Filename)

	dec := wav.NewDecoder(bytes.NewReader(dl.Body.Bytes()))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 24000, buf.Format.SampleRate)
	assert.Len(t, buf.Data, 4)
}

func TestDownload_Missing(t *testing.T) {
	synth := &fakeSynth{available: true}
	mux, _ := newTestServer(t, testConfig(), synth)

	req := httptest.NewRequest(http.MethodGet, "/download/kokoro_123.wav", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
}

func TestDownload_RejectsTraversal(t *testing.T) {
	cfg := testConfig()
	synth := &fakeSynth{available: true}
	_, st := newTestServer(t, cfg, synth)

	h := NewHandler(cfg, synth, st, zerolog.Nop())

	for _, name := range []string{"../secret.txt", "..", "a/b.wav", ""} {
		req := httptest.NewRequest(http.MethodGet, "/download/x", nil)
		req.SetPathValue("filename", name)
		rec := httptest.NewRecorder()
		h.HandleDownload(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code, "name %q", name)
	}
}

func TestDownload_SchedulesDeferredDeletion(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupDelaySec = 1 // shortest configurable grace period

	synth := &fakeSynth{available: true, samples: []float64{0.1}}
	mux, st := newTestServer(t, cfg, synth)

	rec := postTTS(t, mux, `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	req := httptest.NewRequest(http.MethodGet, resp.Data.DownloadURL, nil)
	dl := httptest.NewRecorder()
	mux.ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code)

	// Still present within the grace period.
	_, err := os.Stat(st.Path(resp.Data.Filename))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(st.Path(resp.Data.Filename))
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)

	// The artifact is gone; a repeat download is a 404.
	again := httptest.NewRecorder()
	mux.ServeHTTP(again, httptest.NewRequest(http.MethodGet, resp.Data.DownloadURL, nil))
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestSynthesize_ConcurrencyLimitWaitsBoundedByTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SynthesisConcurrency = 1

	synth := &fakeSynth{available: true, block: true}
	mux, _ := newTestServer(t, cfg, synth)

	// A single blocked request holds the only slot until its 1s budget
	// expires; both it and a queued request end in 504.
	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			rec := postTTS(t, mux, `{"text":"Hello"}`)
			done <- rec.Code
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case code := <-done:
			assert.Equal(t, http.StatusGatewayTimeout, code)
		case <-time.After(10 * time.Second):
			t.Fatal("request did not complete")
		}
	}
}

func TestCORS(t *testing.T) {
	synth := &fakeSynth{available: true, samples: []float64{0.1}}
	mux, _ := newTestServer(t, testConfig(), synth)
	handler := CORS(mux)

	req := httptest.NewRequest(http.MethodOptions, "/tts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"hi"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
