package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plotune/pltxd/catalog"
	"github.com/plotune/pltxd/config"
	"github.com/plotune/pltxd/pltx"
	"github.com/plotune/pltxd/pltx/pltxtest"
	"github.com/plotune/pltxd/server"
)

type streamMessage struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
	Desc      string  `json:"desc"`
	Seq       uint64  `json:"seq"`
	EndFlag   bool    `json:"end_flag"`
}

func newTestServer(t *testing.T) (*httptest.Server, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New()
	srv := server.New(config.Default(), cat, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, cat
}

// writeFixture builds the end-to-end file: Voltage with 3 samples across
// 2 chunks, Current with no samples.
func writeFixture(t *testing.T) string {
	t.Helper()
	w := pltxtest.NewWriter(func(o *pltxtest.Options) {
		o.Compression = pltx.CompressionZlib
		o.ChunkRecords = 2
	})
	w.AddSignal(pltxtest.Signal{Name: "Voltage", Unit: "V"})
	w.AddSignal(pltxtest.Signal{Name: "Current", Unit: "A"})
	w.Append("Voltage",
		pltx.Sample{Timestamp: 1, Value: 230.1},
		pltx.Sample{Timestamp: 2, Value: 230.4},
		pltx.Sample{Timestamp: 3, Value: 229.9},
	)
	path := filepath.Join(t.TempDir(), "e2e.pltx")
	require.NoError(t, w.WriteFile(path))
	return path
}

func readFile(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"mode": "offline", "path": path})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/read-file", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func dial(t *testing.T, ts *httptest.Server, signal string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/fetch/" + signal
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestEndToEndStream(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := readFile(t, ts, writeFixture(t))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var opened struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Headers []string `json:"headers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opened))
	assert.Equal(t, "e2e.pltx", opened.Name)
	assert.Equal(t, []string{"Voltage", "Current"}, opened.Headers)

	// Voltage: three data messages with seq 0,1,2, then exactly one
	// end_flag message, then the server closes the channel.
	conn, _, err := dial(t, ts, "Voltage")
	require.NoError(t, err)
	defer conn.Close()

	wantValues := []float64{230.1, 230.4, 229.9}
	for i, want := range wantValues {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.False(t, msg.EndFlag)
		assert.Equal(t, uint64(i), msg.Seq)
		assert.Equal(t, float64(i+1), msg.Timestamp)
		assert.Equal(t, want, msg.Value)
		assert.Empty(t, msg.Desc)
	}

	var end streamMessage
	require.NoError(t, conn.ReadJSON(&end))
	assert.True(t, end.EndFlag)
	assert.Equal(t, uint64(3), end.Seq)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestStreamEmptySignal(t *testing.T) {
	ts, _ := newTestServer(t)
	readFile(t, ts, writeFixture(t)).Body.Close()

	conn, _, err := dial(t, ts, "Current")
	require.NoError(t, err)
	defer conn.Close()

	// No data messages: the first and only message carries the end flag.
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.True(t, msg.EndFlag)
	assert.Equal(t, uint64(0), msg.Seq)
}

func TestStreamUnknownSignal(t *testing.T) {
	ts, _ := newTestServer(t)
	readFile(t, ts, writeFixture(t)).Body.Close()

	// The request fails before any channel is opened.
	_, resp, err := dial(t, ts, "Pressure")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamDecodeErrorSignalsFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	path := writeFixture(t)

	// Corrupt the first chunk's compressed payload on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx := bytes.Index(data, []byte("CHNK"))
	require.GreaterOrEqual(t, idx, 0)
	for i := idx + 38; i < idx+42; i++ {
		data[i] ^= 0xff
	}
	require.NoError(t, os.WriteFile(path, data, 0600))

	readFile(t, ts, path).Body.Close()

	conn, _, err := dial(t, ts, "Voltage")
	require.NoError(t, err)
	defer conn.Close()

	// The stream fails through the channel's error path; it must never
	// deliver a success end-flag.
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
			return
		}
		assert.False(t, msg.EndFlag)
	}
}

func TestReadFileNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := readFile(t, ts, filepath.Join(t.TempDir(), "missing.pltx"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadFileMalformed(t *testing.T) {
	ts, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "garbage.pltx")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 16), 0600))

	resp := readFile(t, ts, path)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestReadersEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	readFile(t, ts, writeFixture(t)).Body.Close()

	resp, err := http.Get(ts.URL + "/readers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var readers []struct {
		ID           string   `json:"id"`
		SignalsCount int      `json:"signals_count"`
		Headers      []string `json:"headers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&readers))
	require.Len(t, readers, 1)
	assert.Equal(t, 2, readers[0].SignalsCount)
	assert.Equal(t, []string{"Voltage", "Current"}, readers[0].Headers)

	hresp, err := http.Get(ts.URL + "/readers/" + readers[0].ID + "/headers")
	require.NoError(t, err)
	defer hresp.Body.Close()
	assert.Equal(t, http.StatusOK, hresp.StatusCode)

	missing, err := http.Get(ts.URL + "/readers/ffff/headers")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
}
