package server

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

	"loglens/pkg/archive"
	"loglens/pkg/stats"
)

const sampleLog = `{"timestamp":"2024-01-15T10:00:00Z","level":"INFO","namespace":"core","message":"start"}
{"timestamp":"2024-01-15T10:00:05Z","level":"ERROR","namespace":"core.db","message":"timeout","data":{"code":500}}
not json
{"level":"INFO","namespace":"ui","message":"ready"}
`

func writeSampleLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.jsonl")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testServer(t *testing.T, store *archive.Store) *httptest.Server {
	t.Helper()
	s := NewServer(Options{StatsOpts: stats.Options{}, Archive: store})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func loadSession(t *testing.T, srv *httptest.Server, path string) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/load", map[string]string{"path": path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	id, _ := body["session"].(string)
	if id == "" {
		t.Fatal("load response has no session id")
	}
	return id
}

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["archive_enabled"] != false {
		t.Errorf("archive_enabled = %v, want false", body["archive_enabled"])
	}
}

func TestLoadAndQuery(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/query", map[string]string{
		"session": session,
		"query":   "level:ERROR",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["matched"].(float64) != 1 {
		t.Errorf("matched = %v, want 1", body["matched"])
	}
	if body["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3", body["total"])
	}
}

func TestLoadReportsSkips(t *testing.T) {
	srv := testServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/load", map[string]string{"path": writeSampleLog(t)})
	body := decodeBody(t, resp)

	if body["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3", body["total"])
	}
	if body["skip_count"].(float64) != 1 {
		t.Errorf("skip_count = %v, want 1", body["skip_count"])
	}
	levels := body["levels"].([]interface{})
	if len(levels) != 2 {
		t.Errorf("levels = %v, want 2 distinct", levels)
	}
}

func TestLoadMissingFile(t *testing.T) {
	srv := testServer(t, nil)
	resp := postJSON(t, srv.URL+"/api/load", map[string]string{
		"path": filepath.Join(t.TempDir(), "absent.jsonl"),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("load missing file status = %d, want 400", resp.StatusCode)
	}
}

func TestQueryUnknownSession(t *testing.T) {
	srv := testServer(t, nil)
	resp := postJSON(t, srv.URL+"/api/query", map[string]string{"session": "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestQueryInvalidFilter(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/query", map[string]string{
		"session": session,
		"query":   "after:2024-02-01 before:2024-01-01",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid filter status = %d, want 400", resp.StatusCode)
	}
}

func TestQueryPayloadSearch(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/query", map[string]string{
		"session": session,
		"query":   "500",
	})
	body := decodeBody(t, resp)
	if body["matched"].(float64) != 1 {
		t.Errorf("payload search matched = %v, want 1", body["matched"])
	}
}

func TestStats(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/stats", map[string]interface{}{"session": session})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["total_entries"].(float64) != 3 {
		t.Errorf("total_entries = %v, want 3", body["total_entries"])
	}
	levelCounts := body["level_counts"].(map[string]interface{})
	if levelCounts["INFO"].(float64) != 2 || levelCounts["ERROR"].(float64) != 1 {
		t.Errorf("level_counts = %v", levelCounts)
	}
	if body["entries_with_payload"].(float64) != 1 {
		t.Errorf("entries_with_payload = %v, want 1", body["entries_with_payload"])
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := testServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/files?dir=" + dir)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	files := body["files"].([]interface{})
	if len(files) != 1 {
		t.Errorf("files = %v, want 1 entry", files)
	}
}

func TestExportCSV(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/export", map[string]interface{}{
		"session": session,
		"format":  "csv",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 { // header + 3 records
		t.Errorf("export lines = %d, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,level,namespace,message") {
		t.Errorf("export header = %q", lines[0])
	}
}

func TestExportBadFormat(t *testing.T) {
	srv := testServer(t, nil)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/export", map[string]interface{}{
		"session": session,
		"format":  "xml",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad format status = %d, want 400", resp.StatusCode)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	store, err := archive.Open(archive.Config{DBPath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	srv := testServer(t, store)
	session := loadSession(t, srv, writeSampleLog(t))

	resp := postJSON(t, srv.URL+"/api/export", map[string]interface{}{
		"session": session,
		"query":   "level:ERROR",
		"archive": true,
		"name":    "db errors",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	snapID := resp.Header.Get("X-Snapshot-Id")
	if snapID == "" {
		t.Fatal("export did not return a snapshot id")
	}

	listResp, err := http.Get(srv.URL + "/api/archive")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	listBody := decodeBody(t, listResp)
	snapshots := listBody["snapshots"].([]interface{})
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snapshots))
	}

	getResp, err := http.Get(srv.URL + "/api/archive/" + snapID)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	snapBody := decodeBody(t, getResp)
	if snapBody["name"] != "db errors" {
		t.Errorf("snapshot name = %v, want db errors", snapBody["name"])
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/archive/"+snapID, nil)
	if err != nil {
		t.Fatal(err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}

	missingResp, err := http.Get(srv.URL + "/api/archive/" + snapID)
	if err != nil {
		t.Fatal(err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", missingResp.StatusCode)
	}
}

func TestArchiveDisabled(t *testing.T) {
	srv := testServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/archive")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("archive disabled status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketSession(t *testing.T) {
	srv := testServer(t, nil)
	path := writeSampleLog(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "load", "path": path}); err != nil {
		t.Fatal(err)
	}
	var loaded map[string]interface{}
	if err := conn.ReadJSON(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded["type"] != "loaded" {
		t.Fatalf("reply type = %v, want loaded (%v)", loaded["type"], loaded)
	}
	if loaded["total"].(float64) != 3 {
		t.Errorf("loaded total = %v, want 3", loaded["total"])
	}

	if err := conn.WriteJSON(map[string]string{"action": "query", "query": "level:ERROR"}); err != nil {
		t.Fatal(err)
	}
	var results map[string]interface{}
	if err := conn.ReadJSON(&results); err != nil {
		t.Fatal(err)
	}
	if results["type"] != "results" {
		t.Fatalf("reply type = %v, want results (%v)", results["type"], results)
	}
	if results["matched"].(float64) != 1 {
		t.Errorf("matched = %v, want 1", results["matched"])
	}

	if err := conn.WriteJSON(map[string]string{"action": "stats"}); err != nil {
		t.Fatal(err)
	}
	var statsMsg map[string]interface{}
	if err := conn.ReadJSON(&statsMsg); err != nil {
		t.Fatal(err)
	}
	if statsMsg["type"] != "stats" {
		t.Fatalf("reply type = %v, want stats (%v)", statsMsg["type"], statsMsg)
	}
}

func TestWebSocketQueryBeforeLoad(t *testing.T) {
	srv := testServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "query", "query": "x"}); err != nil {
		t.Fatal(err)
	}
	var reply map[string]interface{}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply["type"] != "error" {
		t.Errorf("reply type = %v, want error", reply["type"])
	}
}
