package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/internal/model"
	"github.com/mengelbart/encstage/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	packets []encstage.OutPacket
	stats   stage.Stats
}

func (f *fakeStage) ID() string         { return "stage-1" }
func (f *fakeStage) State() stage.State { return stage.Running }
func (f *fakeStage) Stats() stage.Stats { return f.stats }

func (f *fakeStage) DrainDiagnostics() []encstage.OutPacket {
	res := f.packets
	if res != nil {
		f.packets = []encstage.OutPacket{}
	}
	return res
}

type fakeQueue struct{}

func (fakeQueue) Len() int       { return 2 }
func (fakeQueue) Pushed() uint64 { return 10 }
func (fakeQueue) Drops() uint64  { return 3 }

func newRouter(s StageService, q QueueService) *httprouter.Router {
	mux := httprouter.New()
	NewApi(s, q).RegisterRoutes(mux)
	return mux
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDiagnosticsDrains(t *testing.T) {
	s := &fakeStage{packets: []encstage.OutPacket{
		{PTS: 0, Payload: []byte{1, 2, 3}},
		{PTS: 33 * time.Millisecond, Payload: []byte{4}},
	}}
	mux := newRouter(s, nil)

	rec := get(t, mux, "/api/v1/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var pkts []model.Packet
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pkts))
	require.Len(t, pkts, 2)
	assert.Equal(t, int64(0), pkts[0].PTSMillis)
	assert.Equal(t, 3, pkts[0].Size)
	assert.Equal(t, []byte{1, 2, 3}, pkts[0].Payload)
	assert.Equal(t, int64(33), pkts[1].PTSMillis)

	rec = get(t, mux, "/api/v1/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDiagnosticsDisabled(t *testing.T) {
	rec := get(t, newRouter(&fakeStage{}, nil), "/api/v1/diagnostics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var e model.Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.Equal(t, http.StatusNotFound, e.Code)
}

func TestStats(t *testing.T) {
	s := &fakeStage{stats: stage.Stats{Drained: 5, Published: 4, Failed: 1}}

	rec := get(t, newRouter(s, fakeQueue{}), "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "stage-1", st.ID)
	assert.Equal(t, stage.Running.String(), st.State)
	assert.Equal(t, uint64(5), st.Drained)
	assert.Equal(t, uint64(4), st.Published)
	require.NotNil(t, st.Queue)
	assert.Equal(t, uint64(3), st.Queue.Drops)

	rec = get(t, newRouter(s, nil), "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "queue")
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, newRouter(&fakeStage{}, nil), "/api/v1/channels")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerServesUntilCanceled(t *testing.T) {
	s, err := NewServer(Handle(newRouter(&fakeStage{}, nil)), RequestLogger(nil))
	require.NoError(t, err)
	assert.False(t, s.TLS())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()

	res, err := http.Get("http://" + ln.Addr().String() + "/api/v1/stats")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "stage-1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestCertificateFileMissing(t *testing.T) {
	_, err := NewServer(CertificateFile("missing.pem", "missing-key.pem"))
	assert.Error(t, err)
}
