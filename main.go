// Cycling Telemetry Service
//
// Responsibilities:
//   - BLE Central → subscribe to FTMS / CSC / Cycling Power notifications
//     from an exercise bike or cycling sensor
//   - Decode + filter pipeline → stable speed / distance / cadence stream
//   - WebSocket :8080/ws → broadcast live samples to dashboard clients
//   - HTTP :8080/api     → session recording control + status

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"cycling-telemetry/ble"
	"cycling-telemetry/recorder"
	"cycling-telemetry/store"
	"cycling-telemetry/telemetry"
)

// ─── WebSocket Hub ────────────────────────────────────────────────────────────

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected WebSocket clients and broadcasts to all of them.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, exists := h.clients[c]; exists {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a payload to all connected clients.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow client — drop frame rather than block
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local dashboard
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade: %v", err)
			return
		}

		client := &wsClient{conn: conn, send: make(chan []byte, 64)}
		hub.register(client)
		log.Printf("WS client connected: %s", conn.RemoteAddr())

		// Write pump
		go func() {
			defer func() {
				conn.Close()
				log.Printf("WS client disconnected: %s", conn.RemoteAddr())
			}()
			for payload := range client.send {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}()

		// Read pump — consume messages to detect client disconnect
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		hub.unregister(client)
	}
}

// ─── Main ─────────────────────────────────────────────────────────────────────

func main() {
	var (
		deviceName = flag.String("device", "iConsole", "sensor name to scan for (substring match; empty = any fitness device)")
		httpAddr   = flag.String("addr", ":8080", "HTTP/WebSocket listen address")
		dataDir    = flag.String("data", "data", "directory for the distance baseline and recorded sessions")
		wheelCirc  = flag.Float64("wheel", telemetry.DefaultWheelCircumference, "wheel circumference in meters")
		noFilter   = flag.Bool("no-filter", false, "output raw instantaneous speed instead of the smoothed value")
		speedDist  = flag.Bool("speed-distance", false, "integrate distance from smoothed speed instead of wheel revolutions")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log.SetOutput(os.Stderr)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	cfg := telemetry.DefaultConfig()
	cfg.WheelCircumferenceM = *wheelCirc
	cfg.FilterEnabled = !*noFilter
	if *speedDist {
		cfg.Mode = telemetry.DistanceFromSpeed
	}

	baseline := store.NewJSONStore(filepath.Join(*dataDir, "total_distance.json"), cfg.WheelCircumferenceM)
	pipeline := telemetry.NewPipeline(cfg, baseline)
	rec := recorder.NewFIT()
	pipeline.SetSink(rec)

	log.Printf("Starting with saved distance: %.3f km", pipeline.TotalKm())

	hub := newHub()
	pipeline.SetSampleHandler(func(s telemetry.Sample) {
		payload, err := json.Marshal(s)
		if err != nil {
			log.Printf("json.Marshal: %v", err)
			return
		}
		hub.Broadcast(payload)
	})

	central := ble.NewCentral(*deviceName)
	central.SetPacketHandler(func(kind ble.CharacteristicKind, data []byte) {
		if _, err := pipeline.Process(data, kind); err != nil {
			// Truncated packets are dropped, never fatal to the stream.
			log.Debugf("dropped %s notification: %v", kind, err)
		}
	})

	if err := central.Enable(); err != nil {
		log.Fatalf("BLE: %v", err)
	}

	scanner := ble.NewScanner(central, ble.DefaultScanConfig())
	scanner.Start()

	// Ticker: re-evaluate the speed filter and broadcast once per second
	go func() {
		ticker := time.NewTicker(cfg.UpdateInterval)
		defer ticker.Stop()
		for range ticker.C {
			pipeline.Tick()
		}
	}()

	// HTTP mux
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", wsHandler(hub))

	mux.HandleFunc("/api/session/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		rec.Start(time.Now())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/api/session/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		name := fmt.Sprintf("session_%s.fit", time.Now().Format("20060102_150405"))
		path := filepath.Join(*dataDir, name)
		if err := rec.Close(path); err != nil {
			log.Printf("recorder: %v", err)
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"file":%q}`, name)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Connected  bool    `json:"connected"`
			Device     string  `json:"device"`
			Recording  bool    `json:"recording"`
			DistanceKm float64 `json:"distance_km"`
		}{
			Connected:  central.IsConnected(),
			Device:     central.DeviceName(),
			Recording:  rec.Active(),
			DistanceKm: pipeline.TotalKm(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("status encode: %v", err)
		}
	})

	log.Printf("HTTP/WS server on %s", *httpAddr)
	if err := http.ListenAndServe(*httpAddr, mux); err != nil {
		log.Fatalf("HTTP listen: %v", err)
	}
}
