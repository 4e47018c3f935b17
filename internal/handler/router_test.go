package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sensorchat-gateway/internal/config"
	"sensorchat-gateway/internal/model"
	"sensorchat-gateway/internal/panel"
	"sensorchat-gateway/internal/service"
	"sensorchat-gateway/internal/storage"
	"sensorchat-gateway/internal/upstream"
	"sensorchat-gateway/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type chatReply struct {
	NextAction        string                  `json:"next_action"`
	SimplifiedMessage string                  `json:"simplified_message"`
	ChatHistory       []upstream.HistoryEntry `json:"chat_history"`
}

// fakeAPI answers every chat request with the configured next_action.
type fakeAPI struct {
	nextAction string
	simplified string
	chatCode   int
	resetCode  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/chat":
		if f.chatCode != 0 {
			w.WriteHeader(f.chatCode)
			return
		}
		var req upstream.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(chatReply{
			NextAction:        f.nextAction,
			SimplifiedMessage: f.simplified,
			ChatHistory: []upstream.HistoryEntry{
				{Role: model.RoleUser, Content: req.Message},
				{Role: model.RoleAssistant, Content: "full answer"},
			},
		})
	case "/api/reset":
		if f.resetCode != 0 {
			w.WriteHeader(f.resetCode)
			io.WriteString(w, `{"detail": "reset failed"}`)
			return
		}
		io.WriteString(w, `{"message": "Conversation reset successfully", "status": "success"}`)
	case "/api/pdf/upload":
		io.WriteString(w, `{"processed_model": "DHT22", "message": "PDF processed. Returning to default state.", "next_action": "none"}`)
	case "/api/sensors":
		io.WriteString(w, `{"total": 1, "sensors": [{"sensor_type": "Humidity Sensor", "manufacturer": "Aosong", "model": "DHT22"}]}`)
	case "/api/sensors/DHT22":
		io.WriteString(w, `{"sensor_type": "Humidity Sensor", "manufacturer": "Aosong", "model": "DHT22"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail": "not found"}`)
	}
}

func newTestRouter(t *testing.T, api *fakeAPI) *gin.Engine {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{MaxUploadBytes: 1 << 20},
		Panel:  config.PanelConfig{ConfirmCooldown: 2 * time.Second},
	}
	client := upstream.NewClient(upstream.Options{
		BaseURL:      srv.URL + "/api",
		Timeout:      5 * time.Second,
		DefaultModel: "meta-llama/llama-3.1-8b-instruct",
		CatalogTTL:   time.Minute,
	})
	svc := service.NewChatService(cfg, storage.NewMemoryStorage(), client)
	t.Cleanup(svc.Close)

	return NewRouter(cfg, svc)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, router http.Handler) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp model.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "none"})
	w := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "none"})
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPut, "/api/sessions/"+id, `{"title": "bench"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"bench"`)

	w = doJSON(t, router, http.MethodPut, "/api/sessions/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []model.SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "bench", list.Sessions[0].Title)

	w = doJSON(t, router, http.MethodGet, "/api/sessions/"+id+"/messages", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	createSession(t, router)
	w = doJSON(t, router, http.MethodDelete, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/sessions", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Sessions)
}

func TestChatAndConfirm(t *testing.T) {
	api := &fakeAPI{nextAction: "confirm_sensor", simplified: "Sensor suggested: DHT22. Please confirm."}
	router := newTestRouter(t, api)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat", `{"message": "humidity"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, panel.ModeQuestion, res.Panel.Mode)
	assert.Len(t, res.Messages, 2)

	w = doJSON(t, router, http.MethodGet, "/api/sessions/"+id+"/panel", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view panel.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, panel.ModeQuestion, view.Display)
	assert.Equal(t, "Sensor suggested: DHT22. Please confirm.", view.Body)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/confirm", `{"answer": "perhaps"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.nextAction = "continue"
	api.simplified = "Great! Proceeding with the sensor setup."
	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/confirm", `{"answer": "yes"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var confirmed model.ConfirmResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	require.True(t, confirmed.Accepted)
	assert.Equal(t, panel.ModeResult, confirmed.Result.Panel.Mode)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/confirm", `{"answer": "yes"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	assert.False(t, confirmed.Accepted)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/panel/dismiss", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, panel.ModeDefault, view.Display)
	assert.Equal(t, "llama-3.1-8b-instruct", view.Model)
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "none"})
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat", `{"message": "   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/missing/chat", `{"message": "hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpstreamFailureIsReportedInBody(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{chatCode: http.StatusInternalServerError})
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat", `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res model.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Failed)
	assert.Equal(t, model.GenericErrorReply, res.Reply)
	assert.Equal(t, panel.ModeDefault, res.Panel.Mode)

	routerDown := newTestRouter(t, &fakeAPI{nextAction: "none", resetCode: http.StatusInternalServerError})
	id = createSession(t, routerDown)
	w = doJSON(t, routerDown, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "reset failed")
}

func TestReset(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "pdf_upload", simplified: "Please upload a datasheet."})
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat", `{"message": "mystery sensor"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res model.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Messages)
	assert.Equal(t, panel.ModeDefault, res.Panel.Mode)
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadPDF(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "none"})
	id := createSession(t, router)

	body, contentType := multipartBody(t, "file", "dht22.pdf", "%PDF-1.4")
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/pdf", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "DHT22")

	body, contentType = multipartBody(t, "file", "notes.txt", "hello")
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/pdf", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType = multipartBody(t, "document", "dht22.pdf", "%PDF")
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/pdf", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSensors(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "none"})

	w := doJSON(t, router, http.MethodGet, "/api/sensors?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(t, router, http.MethodGet, "/api/sensors?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/sensors?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/sensors/DHT22", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model":"DHT22"`)

	w = doJSON(t, router, http.MethodGet, "/api/sensors/XYZ", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamMessage(t *testing.T) {
	router := newTestRouter(t, &fakeAPI{nextAction: "confirm_sensor", simplified: "Does this sensor match your needs?"})
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/chat/stream", `{"message": "temperature"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []string
	var payloads []string
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}

	require.Equal(t, []string{service.EventPanel, service.EventResult}, events)
	require.Len(t, payloads, 3)
	assert.Equal(t, "[DONE]", payloads[2])

	var loading service.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &loading))
	require.NotNil(t, loading.Panel)
	assert.Equal(t, panel.ModeLoading, loading.Panel.Display)

	var final service.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(payloads[1]), &final))
	require.NotNil(t, final.Result)
	assert.Equal(t, panel.ModeQuestion, final.Result.Panel.Mode)

	w = doJSON(t, router, http.MethodPost, "/api/sessions/missing/chat/stream", `{"message": "x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// The service closes errs before events, so both can be ready at once. The
// error has to reach the client whichever case select picks.
func TestRelayStreamKeepsErrorWhenEventsCloseFirst(t *testing.T) {
	for i := 0; i < 50; i++ {
		events := make(chan service.StreamEvent, 1)
		errs := make(chan error, 1)
		errs <- upstream.ErrUnavailable
		close(errs)
		close(events)

		w := httptest.NewRecorder()
		relayStream(context.Background(), utils.NewSSEWriter(w), events, errs)

		body := w.Body.String()
		require.Contains(t, body, "event: error\n", "iteration %d", i)
		assert.Contains(t, body, `"status":502`)
		assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
		assert.Equal(t, 1, strings.Count(body, "[DONE]"))
	}
}

func TestRelayStreamEndsCleanlyWithoutError(t *testing.T) {
	events := make(chan service.StreamEvent, 1)
	errs := make(chan error, 1)
	events <- service.StreamEvent{Type: service.EventPanel}
	close(errs)
	close(events)

	w := httptest.NewRecorder()
	relayStream(context.Background(), utils.NewSSEWriter(w), events, errs)

	body := w.Body.String()
	assert.NotContains(t, body, "event: error")
	assert.Contains(t, body, "event: "+service.EventPanel+"\n")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(storage.ErrSessionNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrNotPDF))
	assert.Equal(t, http.StatusBadGateway, statusFor(&upstream.StatusError{Code: 503}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(storage.ErrBackend))
}
