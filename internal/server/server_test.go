package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/progress"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

type fakeBackend struct {
	cfg      *config.Config
	observer events.Observer
	dbErr    error
	release  chan struct{}
	calls    chan string

	// finishFirst makes TransferAllTables report RunFinished before it
	// returns control, the way the transfer service does.
	finishFirst bool
}

func (f *fakeBackend) Config() *config.Config { return f.cfg }

func (f *fakeBackend) ListDatabases(context.Context) ([]string, error) {
	if f.dbErr != nil {
		return []string{}, f.dbErr
	}
	return []string{"shop", "shop_copy"}, nil
}

func (f *fakeBackend) ListTables(_ context.Context, db string) ([]string, error) {
	if db != "shop" {
		return []string{}, nil
	}
	return []string{"customers", "orders"}, nil
}

func (f *fakeBackend) TableInfo(_ context.Context, db, table string) (*source.TableInfo, error) {
	switch table {
	case "customers":
		return &source.TableInfo{Database: db, Name: table, RowCount: 12}, nil
	case "orders":
		return &source.TableInfo{Database: db, Name: table, RowCount: 40}, nil
	}
	return nil, errors.New("table not found")
}

func (f *fakeBackend) TransferSingleTable(_ context.Context, src, dst, table string) types.TransferResult {
	f.observer.TableStarted(table)
	f.calls <- src + "." + table + "->" + dst
	<-f.release
	f.observer.TableCompleted(table, 5)
	res := types.TransferResult{Status: types.StatusSuccess, RowsTransferred: 5, TotalRows: 5}
	f.observer.RunFinished(res)
	return res
}

func (f *fakeBackend) TransferAllTables(context.Context) types.TransferResult {
	res := types.TransferResult{Status: types.StatusPartialSuccess, Message: "Transfer completed with some errors"}
	if f.finishFirst {
		f.observer.RunFinished(res)
	}
	f.calls <- "all"
	<-f.release
	return res
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *fakeBackend, *Hub) {
	t.Helper()
	cfg, err := config.Parse([]byte(`{
		"server":    {"host": "db.local", "user": "root", "password": "secret"},
		"source_db": {"host": "db.local", "database": "shop", "user": "root", "password": "secret"},
		"target_db": {"host": "db.local", "database": "shop_copy", "user": "root", "password": "secret"},
		"tables": ["customers", "orders"]
	}`))
	require.NoError(t, err)

	tracker := progress.NewTracker()
	hub := NewHub(nil)
	backend := &fakeBackend{
		cfg:      cfg,
		observer: events.Multi(tracker, hub.Observer()),
		release:  make(chan struct{}),
		calls:    make(chan string, 4),
	}
	srv := New(context.Background(), backend, tracker, hub, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, srv, backend, hub
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestListDatabases(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	var out struct {
		Databases []string `json:"databases"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/databases", &out))
	assert.Equal(t, []string{"shop", "shop_copy"}, out.Databases)
}

func TestListDatabasesConnectionError(t *testing.T) {
	ts, _, backend, _ := newTestServer(t)
	backend.dbErr = types.ConnectionError("connect db.local:3306", errors.New("refused"))
	var out map[string]string
	assert.Equal(t, http.StatusBadGateway, getJSON(t, ts.URL+"/api/databases", &out))
	assert.Contains(t, out["error"], "refused")
}

func TestListTablesWithRowCounts(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	var out struct {
		Tables []tableSummary `json:"tables"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/databases/shop/tables", &out))
	assert.Equal(t, []tableSummary{{Name: "customers", RowCount: 12}, {Name: "orders", RowCount: 40}}, out.Tables)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/databases/empty/tables", &out))
	assert.Empty(t, out.Tables)
}

func TestTableInfo(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	var info source.TableInfo
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/databases/shop/tables/orders", &info))
	assert.EqualValues(t, 40, info.RowCount)

	var out map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/databases/shop/tables/ghost", &out))
}

func TestTransferValidation(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	cases := []struct {
		body string
		want string
	}{
		{`{"source_database": "shop", "table_name": "orders"}`, "Please select"},
		{`{"source_database": "shop", "target_database": "shop", "table_name": "orders"}`, "cannot be the same"},
		{`not json`, "invalid request body"},
	}
	for _, c := range cases {
		status, out := postJSON(t, ts.URL+"/api/transfer", c.body)
		assert.Equal(t, http.StatusBadRequest, status, c.body)
		assert.Contains(t, out["error"], c.want)
	}
}

func TestTransferRunsInBackgroundAndRejectsSecondRun(t *testing.T) {
	ts, srv, backend, _ := newTestServer(t)

	status, out := postJSON(t, ts.URL+"/api/transfer",
		`{"source_database": "staging", "target_database": "prod", "table_name": "orders"}`)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "Data transfer started: staging.orders -> prod.orders", out["message"])
	assert.Equal(t, "staging.orders->prod", <-backend.calls)

	status, _ = postJSON(t, ts.URL+"/api/transfer/all", `{}`)
	assert.Equal(t, http.StatusConflict, status)

	var st statusResponse
	getJSON(t, ts.URL+"/api/status", &st)
	assert.True(t, st.Running)
	assert.Equal(t, "orders", st.Progress.CurrentTable)

	close(backend.release)
	srv.Wait()

	getJSON(t, ts.URL+"/api/status", &st)
	assert.False(t, st.Running)
	assert.Equal(t, progress.StateCompleted, st.Progress.Status)
	assert.Equal(t, "Transfer completed successfully!", st.Progress.Message)
	require.NotNil(t, st.Progress.Result)
	assert.EqualValues(t, 5, st.Progress.Result.RowsTransferred)
}

// A backend that never reports RunFinished still ends the tracked run.
func TestTransferAllFinishesTracker(t *testing.T) {
	ts, srv, backend, _ := newTestServer(t)
	status, out := postJSON(t, ts.URL+"/api/transfer/all", ``)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "Data transfer started for 2 tables", out["message"])
	assert.Equal(t, "all", <-backend.calls)

	close(backend.release)
	srv.Wait()

	var st statusResponse
	getJSON(t, ts.URL+"/api/status", &st)
	assert.Equal(t, progress.StateCompleted, st.Progress.Status)
	assert.Equal(t, "Transfer completed with some errors", st.Progress.Message)
	assert.Equal(t, 2, st.Progress.TotalTables)
}

func TestFinishedRunDoesNotEndNextRun(t *testing.T) {
	ts, srv, backend, _ := newTestServer(t)
	backend.finishFirst = true

	status, _ := postJSON(t, ts.URL+"/api/transfer/all", ``)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "all", <-backend.calls)

	// the first run has reported its end but its goroutine has not returned
	_, err := srv.tracker.Begin(progress.KindSingle, 1)
	require.NoError(t, err)

	close(backend.release)
	srv.Wait()

	var st statusResponse
	getJSON(t, ts.URL+"/api/status", &st)
	assert.True(t, st.Running, "second run is still in flight")
	assert.Equal(t, progress.KindSingle, st.Progress.Kind)
	assert.Nil(t, st.Progress.Result)

	status, _ = postJSON(t, ts.URL+"/api/transfer/all", ``)
	assert.Equal(t, http.StatusConflict, status)
}

func TestLogsTail(t *testing.T) {
	ts, _, backend, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "transfer.log")
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString(`{"msg":"processed batch"}` + "\n")
	}
	b.WriteString(`{"msg":"transfer finished"}` + "\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	backend.cfg.Log.File = path

	var out logsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/logs", &out))
	assert.Equal(t, path, out.File)
	require.Len(t, out.Lines, 50)
	assert.Equal(t, `{"msg":"transfer finished"}`, out.Lines[49])

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/logs?lines=2", &out))
	assert.Equal(t, []string{`{"msg":"processed batch"}`, `{"msg":"transfer finished"}`}, out.Lines)

	var bad map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/logs?lines=zero", &bad))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/logs?lines=5000", &bad))
}

func TestLogsWithoutFile(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	var out logsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/logs", &out))
	assert.Empty(t, out.File)
	assert.NotNil(t, out.Lines)
	assert.Empty(t, out.Lines)
}

func TestConfigIsRedacted(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), `"database":"shop"`)
}

func TestProgressStream(t *testing.T) {
	ts, _, _, hub := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello progressHello
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "status", hello.Type)
	assert.Equal(t, progress.StateIdle, hello.Progress.Status)
	assert.Equal(t, 1, hub.Clients())

	hub.Observer().BatchCommitted("orders", 1000, 2500)
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeBatchCommitted, ev.Type)
	assert.Equal(t, "orders", ev.Table)
	assert.EqualValues(t, 1000, ev.Transferred)
	assert.EqualValues(t, 2500, ev.Total)
}

func TestUnknownRoute(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
