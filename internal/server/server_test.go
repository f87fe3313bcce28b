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
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rebanada-bot-backend/internal/catalog"
	"rebanada-bot-backend/internal/config"
	"rebanada-bot-backend/internal/db"
	"rebanada-bot-backend/internal/dispatcher"
	"rebanada-bot-backend/internal/intent"
	"rebanada-bot-backend/internal/store"
	"rebanada-bot-backend/internal/types"
)

const eightPizzas = `{
  "pizzas": [
    {"nombre": "Pizza Hawaiana", "precio_30cm": 120},
    {"nombre": "Pizza Pepperoni", "precio_30cm": 110, "precio_familiar": 179},
    {"nombre": "Pizza Mexicana", "precio_30cm": 135, "precio_familiar": 205},
    {"nombre": "Pizza Vegetariana", "precio_30cm": 125, "precio_familiar": 195},
    {"nombre": "Pizza Suprema", "precio_30cm": 145, "precio_familiar": 219},
    {"nombre": "Pizza Carnes Frías", "precio_30cm": 140, "precio_familiar": 215},
    {"nombre": "Pizza Cuatro Quesos", "precio_familiar": 229},
    {"nombre": "Pizza Rebanada", "precio_30cm": 150}
  ],
  "promos": [],
  "bebidas": [{"nombre": "Refresco 600ml", "precio": 30}]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "menu_completo.json")
	require.NoError(t, os.WriteFile(path, []byte(eightPizzas), 0o600))
	return config.Config{
		AllowedOrigin:        "*",
		BotMode:              config.ModeAuto,
		MenuPath:             path,
		ConversationTTL:      time.Minute,
		ConversationMaxTurns: 10,
		LLMTimeout:           time.Second,
		MigrationsDir:        filepath.Join(dir, "migrations"),
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func postBot(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"mode":"rules"}`, rec.Body.String())
}

func TestBotMenuScenario(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec, out := postBot(t, s.Router(), `{"from":"whatsapp:+5215550001","body":"quiero ver el menu","channel":"whatsapp"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	reply := out["reply"].(string)
	bullets := 0
	for _, l := range strings.Split(reply, "\n") {
		if strings.HasPrefix(l, "• ") {
			bullets++
		}
	}
	assert.Equal(t, 6, bullets)
	assert.True(t, strings.HasSuffix(reply, `Escribe el nombre de la pizza que te interesa o di "promos".`))
	assert.Equal(t, false, out["done"])
	assert.Contains(t, out, "order")
	assert.Nil(t, out["order"])
}

func TestBotPizzaAndFallbackScenarios(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	_, out := postBot(t, s.Router(), `{"from":"u1","body":"hawaiana","channel":"sms"}`)
	assert.Contains(t, out["reply"], "30 cm: $120")
	assert.Contains(t, out["reply"], "Familiar: N/A")

	_, out = postBot(t, s.Router(), `{"from":"u1","body":"asdkjh","channel":"sms"}`)
	assert.Equal(t, intent.FallbackReply, out["reply"])

	_, out = postBot(t, s.Router(), `{"from":"u1","body":"promos","channel":"sms"}`)
	assert.Equal(t, intent.NoPromosReply, out["reply"])
}

func TestBotMissingFieldsAndEmptyBody(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec, out := postBot(t, s.Router(), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, intent.FallbackReply, out["reply"])

	rec, out = postBot(t, s.Router(), ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, intent.FallbackReply, out["reply"])

	rec, _ = postBot(t, s.Router(), `{"body":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMenuAndReload(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menu", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var menu struct {
		Pizzas  []map[string]any `json:"pizzas"`
		Promos  []map[string]any `json:"promos"`
		Bebidas []map[string]any `json:"bebidas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &menu))
	assert.Len(t, menu.Pizzas, 8)
	assert.Equal(t, "Pizza Hawaiana", menu.Pizzas[0]["nombre"])

	require.NoError(t, os.WriteFile(cfg.MenuPath, []byte("{oops"), 0o600))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-menu", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var reload types.ReloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reload))
	assert.False(t, reload.OK)
	assert.Zero(t, reload.Pizzas)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menu", nil))
	assert.JSONEq(t, `{"pizzas":[],"promos":[],"bebidas":[]}`, rec.Body.String())
}

func TestConversationEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	postBot(t, s.Router(), `{"from":"u7","body":"menu","channel":"whatsapp"}`)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/u7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var conv map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "u7", conv["senderId"])
	assert.Len(t, conv["turns"], 2)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationsInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	s := newTestServer(t, cfg)
	assert.Nil(t, s.memory)

	postBot(t, s.Router(), `{"from":"u9","body":"hola"}`)

	assert.True(t, mr.Exists("rebanada:conversation:u9"))
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1"
	s := newTestServer(t, cfg)

	assert.NotNil(t, s.memory)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	postBot(t, s.Router(), `{"from":"u1","body":"menu"}`)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_messages_total")
	assert.Contains(t, rec.Body.String(), "bot_catalog_reloads_total")
}

func TestGroundedModeEndToEnd(t *testing.T) {
	var gotPrompt string
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) > 0 {
			gotPrompt = body.Messages[0].Content
		}
		content, _ := json.Marshal(`{"reply":"¡Listo!","done":true,"order":{"item":"Pizza Hawaiana","size":"30 cm","drink":"Refresco 600ml","payment":"efectivo","address":"Centro 1"}}`)
		var buf bytes.Buffer
		buf.WriteString(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":`)
		buf.Write(content)
		buf.WriteString(`},"finish_reason":"stop"}]}`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}))
	defer llm.Close()

	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = llm.URL + "/v1"
	s := newTestServer(t, cfg)

	rec, out := postBot(t, s.Router(), `{"from":"u1","body":"confirmo","channel":"whatsapp"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "¡Listo!", out["reply"])
	assert.Equal(t, true, out["done"])
	order, ok := out["order"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Pizza Hawaiana", order["item"])
	assert.Contains(t, gotPrompt, "MENU: ")
	assert.Contains(t, gotPrompt, "Pizza Rebanada")
}

func TestGroundedModeProviderDownUsesRules(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer llm.Close()

	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-bad"
	cfg.OpenAIBaseURL = llm.URL + "/v1"
	s := newTestServer(t, cfg)

	_, out := postBot(t, s.Router(), `{"from":"u1","body":"hawaiana"}`)

	assert.Contains(t, out["reply"], "30 cm: $120")
	assert.Equal(t, false, out["done"])
	assert.Nil(t, out["order"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/bot", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func newArchiveServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := zaptest.NewLogger(t)
	database := db.Wrap(sqlDB, log)
	orders := store.NewOrderArchive(database)
	cat := catalog.NewStore(catalog.StaticSource{Catalog: catalog.Empty()}, log)
	d := dispatcher.New(cat, dispatcher.Options{Mode: config.ModeRules, Archive: orders, Log: log})

	s := newServer(config.Config{AllowedOrigin: "*"}, cat, d, log)
	s.database = database
	s.orders = orders
	return s, mock
}

func TestHealthReportsArchive(t *testing.T) {
	s, mock := newArchiveServer(t)

	mock.ExpectPing()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"mode":"rules","database":"ok"}`, rec.Body.String())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ok":false,"mode":"rules","database":"unreachable"}`, rec.Body.String())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrdersEndpoint(t *testing.T) {
	s, mock := newArchiveServer(t)
	created := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "sender_id", "channel", "status", "payload", "created_at"}).
		AddRow("6f1c2d8e-0000-4000-8000-000000000001", "u1", "whatsapp", "complete", []byte(`{"item":"Pizza Suprema"}`), created)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders")).WithArgs("u1", 5).WillReturnRows(rows)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/orders/u1?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		SenderID string `json:"senderId"`
		Orders   []struct {
			Status string          `json:"status"`
			Order  json.RawMessage `json:"order"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "u1", out.SenderID)
	require.Len(t, out.Orders, 1)
	assert.Equal(t, "complete", out.Orders[0].Status)
	assert.JSONEq(t, `{"item":"Pizza Suprema"}`, string(out.Orders[0].Order))
	assert.NoError(t, mock.ExpectationsWereMet())

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/orders/u1?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrdersEndpointWithoutArchive(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/orders/u1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownModeFallsBackToRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.BotMode = "rule"
	s := newTestServer(t, cfg)

	assert.Equal(t, config.ModeRules, s.dispatcher.Mode())
}
