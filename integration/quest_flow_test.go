package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thc1967/codex-quest-manager-sub000/api/ws"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
)

func TestAuthFlow_LoginRefreshLogout(t *testing.T) {
	ts := NewTestServer(t)
	user := UniqueID("alice")
	token, accountID := ts.Login(t, user, "s3cret!")
	assert.Greater(t, accountID, int64(0))

	resp := ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed map[string]interface{}
	ReadJSON(t, resp, &refreshed)
	fresh := refreshed["token"].(string)
	assert.NotEqual(t, token, fresh)

	resp = ts.Get(t, "/api/quests", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "refresh revokes the old session")

	resp = ts.PostJSON(t, "/api/auth/logout", nil, fresh)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.Get(t, "/api/quests", fresh)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQuestFlow_DirectorAndPlayers(t *testing.T) {
	gm := UniqueID("gm")
	ts := NewTestServer(t, gm)
	gmToken, _ := ts.Login(t, gm, "gmpass")
	aliceToken, aliceID := ts.Login(t, UniqueID("alice"), "alicepass")
	bobToken, _ := ts.Login(t, UniqueID("bob"), "bobpass")

	secret := ts.CreateQuest(t, gmToken, "The Hidden Vault")
	open := ts.CreateQuest(t, aliceToken, "Find the Amulet")

	var list map[string]interface{}
	ReadJSON(t, ts.Get(t, "/api/quests", bobToken), &list)
	assert.Equal(t, float64(1), list["count"], "director quests start hidden")

	resp := ts.Get(t, "/api/quests/"+secret, bobToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.Put(t, "/api/quests/"+secret, map[string]interface{}{"visibleToPlayers": true}, gmToken)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ReadJSON(t, ts.Get(t, "/api/quests", bobToken), &list)
	assert.Equal(t, float64(2), list["count"])

	resp = ts.Put(t, "/api/quests/"+open, map[string]interface{}{"status": "Active"}, bobToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "players edit only their own quests")

	resp = ts.Put(t, "/api/quests/"+open, map[string]interface{}{"status": "Active"}, aliceToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q map[string]interface{}
	ReadJSON(t, resp, &q)
	assert.Equal(t, "Active", q["status"])
	assert.Equal(t, strconv.FormatInt(aliceID, 10), q["createdBy"])

	resp = ts.PostJSON(t, "/api/quests/"+open+"/notes", map[string]string{"content": "Seen near the mill"}, bobToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var note map[string]interface{}
	ReadJSON(t, resp, &note)
	noteID := note["id"].(string)

	resp = ts.Delete(t, "/api/quests/"+open+"/notes/"+noteID, aliceToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "only the author removes a note")
	resp = ts.Delete(t, "/api/quests/"+open+"/notes/"+noteID, gmToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.Delete(t, "/api/quests/"+open, gmToken)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ReadJSON(t, ts.Get(t, "/api/quests", aliceToken), &list)
	assert.Equal(t, float64(1), list["count"])
}

func TestQuestFlow_StreamsDocumentChanges(t *testing.T) {
	ts := NewTestServer(t)
	token, accountID := ts.Login(t, UniqueID("alice"), "alicepass")
	stream := ts.Stream(t, token)

	id := ts.CreateQuest(t, token, "Escort the Caravan")
	event, data := stream.Next(t, 5*time.Second)
	require.Equal(t, "document", event)
	var ev hook.DocumentChanged
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, documentPath, ev.Path)
	assert.Equal(t, "Create quest", ev.Description)
	assert.Equal(t, strconv.FormatInt(accountID, 10), ev.Actor)

	resp := ts.PostJSON(t, "/api/quests/"+id+"/objectives", map[string]string{"title": "Reach the pass"}, token)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	event, data = stream.Next(t, 5*time.Second)
	require.Equal(t, "document", event)
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "Add objective", ev.Description)
	assert.Greater(t, ev.Revision, int64(1))
}

func TestQuestFlow_JournalAndMetrics(t *testing.T) {
	ts := NewTestServer(t)
	token, _ := ts.Login(t, UniqueID("alice"), "alicepass")
	ts.CreateQuest(t, token, "One")
	ts.CreateQuest(t, token, "Two")

	// Stopping the journal flushes pending entries.
	ts.Journal.Stop(context.Background())
	var changes map[string]interface{}
	ReadJSON(t, ts.Get(t, "/api/document/changes", token), &changes)
	assert.Equal(t, float64(2), changes["count"])

	resp := ts.Get(t, "/metrics", "")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quest_document_changes_total{path="quests"} 2`)
}

func TestQuestFlow_WebSocketPush(t *testing.T) {
	ts := NewTestServer(t)
	token, _ := ts.Login(t, UniqueID("alice"), "alicepass")

	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.Packet {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var pkt ws.Packet
		require.NoError(t, conn.ReadJSON(&pkt))
		return pkt
	}
	require.Equal(t, "connected", read().Type)

	id := ts.CreateQuest(t, token, "Clear the Cellar")
	pkt := read()
	require.Equal(t, "document", pkt.Type)
	var ev hook.DocumentChanged
	require.NoError(t, json.Unmarshal(pkt.Payload, &ev))
	assert.Equal(t, "Create quest", ev.Description)

	resp := ts.Delete(t, "/api/quests/"+id, token)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pkt = read()
	require.NoError(t, json.Unmarshal(pkt.Payload, &ev))
	assert.Equal(t, "Delete quest", ev.Description)
}
