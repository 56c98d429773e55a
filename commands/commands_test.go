package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	dbadapter "github.com/thc1967/codex-quest-manager-sub000/db"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"github.com/thc1967/codex-quest-manager-sub000/scheduler"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig points a config file at a fresh SQLite database in a temp dir.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "quests.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "database:\n  mode: sqlite\n  sqlite_path: " + dbPath + "\nquest:\n  campaign_name: Default\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, dbPath
}

const seed = `{
  "quests": {
    "q1": {"id": "q1", "title": "Find the Amulet", "status": "Active", "visibleToPlayers": true,
           "createdBy": "7", "createdAt": "2024-03-01T12:00:00Z",
           "objectives": {"o1": {"id": "o1", "title": "Dig", "status": "Not Started", "order": 1, "createdBy": "7"}},
           "notes": {}},
    "q2": {"id": "q2", "title": "Secret", "category": "Faction", "createdBy": "1", "createdAt": "2024-03-02T12:00:00Z"}
  },
  "metadata": {"campaignName": "Imported", "version": 1}
}`

func TestCommands_ImportExport(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	seedPath := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o644))

	out, err := run(t, "import", seedPath, "--replace", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 quests")

	out, err = run(t, "export", "--config", cfgPath)
	require.NoError(t, err)
	var doc struct {
		Quests   map[string]map[string]interface{} `json:"quests"`
		Metadata map[string]interface{}            `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Quests, 2, "hidden quests are exported too")
	assert.Equal(t, "Find the Amulet", doc.Quests["q1"]["title"])
	assert.Equal(t, "Faction", doc.Quests["q2"]["category"])
	assert.Equal(t, "Imported", doc.Metadata["campaignName"])

	yamlPath := filepath.Join(t.TempDir(), "backup.yaml")
	_, err = run(t, "export", "--format", "yaml", "--out", yamlPath, "--config", cfgPath)
	require.NoError(t, err)
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: Find the Amulet")
	assert.Contains(t, string(data), "campaignName: Imported")

	// The YAML export imports back.
	out, err = run(t, "import", yamlPath, "--replace", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 quests")
}

func TestCommands_ExportRejectsUnknownFormat(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "export", "--format", "xml", "--config", cfgPath)
	assert.Error(t, err)
}

func TestCommands_ImportRejectsGarbage(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"metadata":{}}`), 0o644))
	_, err := run(t, "import", bad, "--config", cfgPath)
	assert.Error(t, err)
}

func TestCommands_Accounts(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	_, err := run(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	db, err := dbadapter.Open(config.DatabaseConfig{Mode: dbadapter.ModeSQLite, SQLitePath: dbPath}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Account{Username: "alice", PasswordHash: "x", Role: model.RolePlayer, Status: 1}).Error)
	closeDB(db)

	out, err := run(t, "accounts", "promote", "alice", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "alice is now a director")

	out, err = run(t, "accounts", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, model.RoleDirector)

	_, err = run(t, "accounts", "demote", "nobody", "--config", cfgPath)
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Mode = dbadapter.ModeMemory
	cfg.Security.JWTSecret = "test-secret"
	cfg.Server.AdminKey = "admin-key"
	cfg.Quest.DirectorAccounts = []string{"gm"}
	cfg.Metrics.RefreshInterval = time.Hour
	return cfg
}

func serveJSON(r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApp_EndToEnd(t *testing.T) {
	a, err := newApp(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	r := a.router()

	assert.Equal(t, http.StatusOK, serveJSON(r, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serveJSON(r, http.MethodGet, "/api/quests", nil).Code)

	w := serveJSON(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "gm", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token    string `json:"token"`
		Director bool   `json:"director"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.True(t, login.Director)
	bearer := []string{"Authorization", "Bearer " + login.Token}

	w = serveJSON(r, http.MethodPost, "/api/quests", map[string]string{"title": "Opening Hook"}, bearer...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serveJSON(r, http.MethodGet, "/api/quests", nil, bearer...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Opening Hook")

	w = serveJSON(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `quest_document_changes_total{path="quests"} 1`)

	w = serveJSON(r, http.MethodGet, "/api/admin/scheduler", nil, "X-Admin-Key", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "quest_gauge")

	w = serveJSON(r, http.MethodGet, "/api/admin/scheduler", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApp_StartupFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Mode = "oracle"
	_, err := newApp(cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "db:"))
}

func TestApp_StartupFailsOnZeroRefreshInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.RefreshInterval = 0
	_, err := newApp(cfg, zap.NewNop())
	assert.ErrorIs(t, err, scheduler.ErrInvalidInterval)
}
