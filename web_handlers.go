package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"image/jpeg"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/elijahnyp/home_security/detector"
	"github.com/elijahnyp/home_security/security"
	"github.com/elijahnyp/home_security/state"
	. "github.com/elijahnyp/home_security/util"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxRecentActivity = 50
	maxUploadBytes    = 16 << 20
	scanFrameID       = "scan"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from the same box
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data      interface{} `json:"data"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub fans engine events out to dashboard clients and keeps the most
// recent ones for the status API.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient

	mu      sync.RWMutex
	recent  []ActivityItem
	lastCat *bool
}

// ActivityItem represents a system activity
type ActivityItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// SystemStatus represents the overall system status
type SystemStatus struct {
	Sensors           []state.Sensor `json:"sensors"`
	RecentActivity    []ActivityItem `json:"recent_activity"`
	CatDetected       *bool          `json:"cat_detected"`
	AlarmStatus       string         `json:"alarm_status"`
	AlarmDescription  string         `json:"alarm_description"`
	ArmingStatus      string         `json:"arming_status"`
	ArmingDescription string         `json:"arming_description"`
	ActiveSensors     int            `json:"active_sensors"`
	TotalCameras      int            `json:"total_cameras"`
}

var wsHub *WSHub

var _ security.StatusListener = (*WSHub)(nil)

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate records an event and sends it to all connected clients.
// It never blocks.
func (h *WSHub) BroadcastUpdate(messageType, text string, data interface{}) {
	msg := WebSocketMessage{
		ID:        uuid.NewString(),
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	h.mu.Lock()
	h.recent = append(h.recent, ActivityItem{ID: msg.ID, Type: messageType, Message: text, Timestamp: msg.Timestamp})
	if len(h.recent) > maxRecentActivity {
		h.recent = h.recent[len(h.recent)-maxRecentActivity:]
	}
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		// Channel is full, skip this update
	}
}

// Recent returns the recorded activity, newest first.
func (h *WSHub) Recent() []ActivityItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ActivityItem, len(h.recent))
	for i, item := range h.recent {
		out[len(h.recent)-1-i] = item
	}
	return out
}

func (h *WSHub) LastCat() *bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCat
}

func (h *WSHub) Notify(status state.AlarmStatus) {
	h.BroadcastUpdate("alarm_status", status.Description(), map[string]interface{}{
		"status":      status.String(),
		"description": status.Description(),
	})
}

func (h *WSHub) CatDetected(cat bool) {
	h.mu.Lock()
	h.lastCat = &cat
	h.mu.Unlock()
	text := "no cat in image"
	if cat {
		text = "cat detected"
	}
	h.BroadcastUpdate("cat_detected", text, map[string]interface{}{"cat": cat})
}

func (h *WSHub) ArmingChanged(status state.ArmingStatus) {
	h.BroadcastUpdate("arming_status", status.Description(), map[string]interface{}{
		"status":      status.String(),
		"description": status.Description(),
	})
}

// readPump pumps messages from the websocket connection to the hub
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket handles websocket requests from the peer
func ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WebSocketMessage, 256),
		hub:  wsHub,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// errorCode maps engine and store errors onto HTTP status codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, state.ErrUnknownSensor):
		return http.StatusNotFound
	case errors.Is(err, state.ErrUnknownStatus), errors.Is(err, state.ErrUnknownSensorType),
		errors.Is(err, security.ErrNilImage), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func systemStatus() (SystemStatus, error) {
	alarm, err := engine.AlarmStatus()
	if err != nil {
		return SystemStatus{}, err
	}
	arming, err := engine.ArmingStatus()
	if err != nil {
		return SystemStatus{}, err
	}
	sensors, err := engine.Sensors()
	if err != nil {
		return SystemStatus{}, err
	}
	status := SystemStatus{
		AlarmStatus:       alarm.String(),
		AlarmDescription:  alarm.Description(),
		ArmingStatus:      arming.String(),
		ArmingDescription: arming.Description(),
		Sensors:           sensors,
		TotalCameras:      len(currentModel().Cameras),
		RecentActivity:    []ActivityItem{},
	}
	for _, s := range sensors {
		if s.Active {
			status.ActiveSensors++
		}
	}
	if wsHub != nil {
		status.RecentActivity = wsHub.Recent()
		status.CatDetected = wsHub.LastCat()
	}
	return status, nil
}

// APISystemStatus returns the overall system status as JSON
func APISystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
		return
	}
	status, err := systemStatus()
	if err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type armingRequest struct {
	Status *state.ArmingStatus `json:"status"`
}

// APIArming sets the arming status from {"status":"ARMED_HOME"}.
func APIArming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
		return
	}
	var req armingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: status required", errBadRequest))
		return
	}
	if err := setArming(*req.Status); err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	status, err := systemStatus()
	if err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type sensorRequest struct {
	Type   *state.SensorType `json:"type"`
	Active *bool             `json:"active,omitempty"`
	Name   string            `json:"name"`
}

func decodeSensorRequest(r *http.Request) (sensorRequest, error) {
	var req sensorRequest
	if r.Method == http.MethodDelete && r.URL.Query().Get("name") != "" {
		t, err := state.ParseSensorType(r.URL.Query().Get("type"))
		if err != nil {
			return req, err
		}
		return sensorRequest{Name: r.URL.Query().Get("name"), Type: &t}, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if req.Name == "" || req.Type == nil {
		return req, fmt.Errorf("%w: sensor name and type required", errBadRequest)
	}
	return req, nil
}

// APISensors lists, adds and removes sensors.
func APISensors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sensors, err := engine.Sensors()
		if err != nil {
			writeError(w, errorCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sensors)
	case http.MethodPost:
		req, err := decodeSensorRequest(r)
		if err != nil {
			writeError(w, errorCode(err), err)
			return
		}
		sensor := state.NewSensor(req.Name, *req.Type)
		if err := engine.AddSensor(sensor); err != nil {
			writeError(w, errorCode(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, sensor)
	case http.MethodDelete:
		req, err := decodeSensorRequest(r)
		if err != nil {
			writeError(w, errorCode(err), err)
			return
		}
		if err := engine.RemoveSensor(state.NewSensor(req.Name, *req.Type)); err != nil {
			writeError(w, errorCode(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
	}
}

// APISensorActivation toggles a stored sensor from
// {"name":"Front Door","type":"DOOR","active":true}.
func APISensorActivation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
		return
	}
	req, err := decodeSensorRequest(r)
	if err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: active required", errBadRequest))
		return
	}
	sensor, err := engine.SetSensorActive(state.SensorKey{Name: req.Name, Type: *req.Type}, *req.Active)
	if err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// APIScan runs an uploaded picture through the engine. The picture is the
// "image" field of a multipart form or the raw request body.
func APIScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var data []byte
	var err error
	if file, _, ferr := r.FormFile("image"); ferr == nil {
		data, err = io.ReadAll(file)
		_ = file.Close() //nolint:errcheck // read only
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	img, err := decodeImage(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := engine.ProcessImage(r.Context(), img); err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	cacheFrame(scanFrameID, img)
	status, err := systemStatus()
	if err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alarm_status": status.AlarmStatus,
		"cat_detected": status.CatDetected,
		"image":        "/image?id=" + scanFrameID,
	})
}

func HttpImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(400)
		if _, err := io.WriteString(w, "Bad Request Method\n"); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
		return
	}
	id := r.URL.Query().Get("id")
	cached, ok := cachedFrameByID(id)
	if !ok {
		w.WriteHeader(404)
		if _, err := io.WriteString(w, "Unknown ID"); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
		return
	}
	marked := detector.Markup(cached.frame.Image, cached.frame.Results.Predictions)
	imgWriter := bytes.NewBuffer(nil)
	if err := jpeg.Encode(imgWriter, marked, nil); err != nil {
		http.Error(w, "Error encoding image", http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "image/jpeg")
	if _, err := w.Write(imgWriter.Bytes()); err != nil {
		Logger.Error().Msgf("Error writing image response: %v", err)
	}
}

// StatusOverview is a plain HTML page for when the dashboard is not
// around.
func StatusOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(400)
		return
	}
	status, err := systemStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "text/html")
	writeString := func(s string) {
		if _, err := io.WriteString(w, s); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
	}
	writeString("<html><body>")
	writeString(fmt.Sprintf("<h2>%s</h2>", html.EscapeString(status.AlarmDescription)))
	writeString(fmt.Sprintf("<p>%s</p>", html.EscapeString(status.ArmingDescription)))
	writeString("<table><tr><th>Sensor</th><th>Type</th><th>Active</th></tr>")
	for _, s := range status.Sensors {
		writeString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%v</td></tr>",
			html.EscapeString(s.Name), s.Type, s.Active))
	}
	writeString("</table>")

	framesMu.RLock()
	ids := make([]string, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ages := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		ages[id] = frames[id].at
	}
	framesMu.RUnlock()
	for _, id := range ids {
		writeString(fmt.Sprintf("<h3>%s (%s)</h3>", html.EscapeString(id), humanize.Time(ages[id])))
		writeString(fmt.Sprintf("<img src=\"/image?id=%s\" /><br>", html.EscapeString(id)))
	}

	writeString("<h3>Recent activity</h3><ul>")
	for _, a := range status.RecentActivity {
		writeString(fmt.Sprintf("<li>%s: %s</li>",
			humanize.Time(time.Unix(a.Timestamp, 0)), html.EscapeString(a.Message)))
	}
	writeString("</ul></body></html>")
}

func HomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/status", http.StatusFound)
}

func registerHandlers(monitor *MonitorServer) {
	monitor.AddHandler("/", HomeHandler)
	monitor.AddHandler("/status", StatusOverview)
	monitor.AddHandler("/image", HttpImage)
	monitor.AddHandler("/ws", ServeWebSocket)
	monitor.AddHandler("/api/status", APISystemStatus)
	monitor.AddHandler("/api/arming", APIArming)
	monitor.AddHandler("/api/sensors", APISensors)
	monitor.AddHandler("/api/sensors/activation", APISensorActivation)
	monitor.AddHandler("/api/scan", APIScan)
}
