package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/serialdash/internal/conn"
	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/export"
	"github.com/shaunagostinho/serialdash/internal/metrics"
	"github.com/shaunagostinho/serialdash/internal/publish"
	"github.com/shaunagostinho/serialdash/internal/stream"
)

// monitorDoc is the empty console document new text is spliced into.
const monitorDoc = `<div class="monitor"><div class="scroll"><pre>` + stream.MonitorTrailer

// Publisher receives every non-empty refresh. *publish.Publisher satisfies it.
type Publisher interface {
	Publish(msg publish.Message) error
	Close()
}

// Deps are the collaborators the server drives.
type Deps struct {
	Manager   *conn.Manager
	Pipeline  *stream.Pipeline
	Window    *stream.Window
	Recorder  *export.Recorder
	Publisher Publisher // optional
	Metrics   *metrics.Collector
}

// Server runs the refresh loop and serves the dashboard, its API and the
// WebSocket feed.
type Server struct {
	cfg   *Config
	deps  Deps
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	viewMu   sync.Mutex
	settings Settings
	doc      string
	recorded int
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Delta   *stream.Delta     `json:"delta,omitempty"`
	Marker  *stream.Point     `json:"marker,omitempty"`
	Monitor string            `json:"monitor,omitempty"`
	Status  *StatusFrame      `json:"status,omitempty"`
	Ports   []device.PortInfo `json:"ports,omitempty"`
	View    *View             `json:"view,omitempty"`
	Reset   bool              `json:"reset,omitempty"` // plot was cleared
	Stamp   int64             `json:"stamp"`           // Unix ms
}

// StatusFrame is a connection status with its label.
type StatusFrame struct {
	conn.Status
	Text     string `json:"text"`
	Selected string `json:"selected,omitempty"`
}

// View is what the page needs to draw axes, legends and option pickers.
type View struct {
	Labels     []string `json:"labels"`
	AxisLabel  string   `json:"axisLabel"`
	Rollover   int      `json:"rollover"`
	Plotting   bool     `json:"plotting"`
	Monitoring bool     `json:"monitoring"`
	Recording  bool     `json:"recording"`
	Delimiter  string   `json:"delimiter"`
	BaudRates  []int    `json:"baudRates"`
	Delimiters []string `json:"delimiters"`
	TimeUnits  []string `json:"timeUnits"`
	Rollovers  []int    `json:"rollovers"`
}

// New creates a server. cfg must already validate.
func New(cfg *Config, deps Deps, webFS fs.FS) (*Server, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		settings: settings,
		doc:      monitorDoc,
	}
	s.apply(settings)
	deps.Pipeline.SetPlotting(true)
	deps.Pipeline.SetMonitoring(true)

	deps.Manager.OnStatus(func(st conn.Status) {
		s.broadcast(Frame{Status: s.statusFrame(st), Stamp: time.Now().UnixMilli()})
	})
	deps.Manager.OnCatalog(func(ports []device.PortInfo) {
		s.broadcast(Frame{
			Ports:  ports,
			Status: s.statusFrame(deps.Manager.Status()),
			Stamp:  time.Now().UnixMilli(),
		})
	})
	return s, nil
}

// apply pushes parsed settings into the pipeline, store, window and recorder.
func (s *Server) apply(st Settings) {
	p := s.deps.Pipeline
	p.SetDelimiter(st.Delimiter)
	p.Store().SetMaxCols(st.MaxCols)
	p.Store().SetTimeConfig(st.Time)
	s.deps.Window.SetRollover(st.Rollover)
	if s.deps.Recorder != nil {
		_, exp, _ := s.cfg.Snapshot()
		s.deps.Recorder.SetDelimiter(st.Delimiter.Rune())
		s.deps.Recorder.SetEnabled(exp.Record)
	}
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("/api/send", s.handleSend)

	mux.HandleFunc("/api/plot/stream", s.handleToggle(s.deps.Pipeline.SetPlotting))
	mux.HandleFunc("/api/monitor/stream", s.handleToggle(s.deps.Pipeline.SetMonitoring))
	mux.HandleFunc("/api/record", s.handleRecord)
	mux.HandleFunc("/api/plot/clear", s.handlePlotClear)
	mux.HandleFunc("/api/monitor/clear", s.handleMonitorClear)
	mux.HandleFunc("/api/plot/save", s.handlePlotSave)
	mux.HandleFunc("/api/monitor/save", s.handleMonitorSave)
	mux.HandleFunc("/api/monitor", s.handleMonitor)
	mux.HandleFunc("/api/stats", s.handleStats)

	if _, withMetrics := s.cfg.Listen(); withMetrics && s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
	return mux
}

// Run starts discovery, the refresh loop and the HTTP server, and tears
// everything down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr, _ := s.cfg.Listen()
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.deps.Manager.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[server] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.refreshLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)

		s.deps.Manager.Shutdown()
		if s.deps.Recorder != nil {
			s.deps.Recorder.Close()
		}
		if s.deps.Publisher != nil {
			s.deps.Publisher.Close()
		}
		return err
	})

	serial, _, _ := s.cfg.Snapshot()
	if serial.AutoConnect {
		go func() {
			if err := s.connect(serial.Port, serial.BaudRate); err != nil {
				log.Printf("[server] auto-connect: %v", err)
			}
		}()
	}
	return g.Wait()
}

func (s *Server) connect(port string, baud int) error {
	s.deps.Pipeline.Reset()
	return s.deps.Manager.Connect(port, baud)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: ws,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.deps.Metrics.Clients(n)
	log.Printf("[ws] client connected (%d total)", n)

	// Initial frame: view, status, catalog and the full retained window.
	if data, err := json.Marshal(s.initialFrame()); err == nil {
		client.send <- data
	} else {
		log.Printf("[ws] encode initial frame: %v", err)
	}

	go func() {
		defer ws.Close()
		for msg := range client.send {
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.deps.Metrics.Clients(n)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) initialFrame() Frame {
	d := s.windowDelta()
	marker := s.deps.Window.Marker()
	return Frame{
		Delta:  &d,
		Marker: &marker,
		Status: s.statusFrame(s.deps.Manager.Status()),
		Ports:  s.deps.Manager.Catalog().Options(),
		View:   s.view(),
		Reset:  true,
		Stamp:  time.Now().UnixMilli(),
	}
}

// windowDelta packs the whole retained window as one delta.
func (s *Server) windowDelta() stream.Delta {
	var d stream.Delta
	d.TimeMode = s.deps.Pipeline.Store().TimeConfig().HasColumn()
	for _, col := range s.deps.Window.Columns() {
		cd := stream.ColumnDelta{Column: col, T: []float64{}, Y: []float64{}}
		for _, p := range s.deps.Window.Series(col) {
			cd.T = append(cd.T, p.T)
			cd.Y = append(cd.Y, p.Y)
		}
		d.Columns = append(d.Columns, cd)
	}
	return d
}

func (s *Server) statusFrame(st conn.Status) *StatusFrame {
	return &StatusFrame{Status: st, Text: st.Text(), Selected: s.deps.Manager.Catalog().Selected()}
}

func (s *Server) view() *View {
	s.viewMu.Lock()
	st := s.settings
	s.viewMu.Unlock()

	recording := s.deps.Recorder != nil && s.deps.Recorder.Enabled()
	return &View{
		Labels:     stream.ColumnLabels(st.Labels, st.Delimiter, st.MaxCols),
		AxisLabel:  st.Time.AxisLabel(),
		Rollover:   st.Rollover,
		Plotting:   s.deps.Pipeline.Plotting(),
		Monitoring: s.deps.Pipeline.Monitoring(),
		Recording:  recording,
		Delimiter:  st.Delimiter.Name(),
		BaudRates:  device.BaudRates,
		Delimiters: stream.Delimiters(),
		TimeUnits:  stream.TimeUnits(),
		Rollovers:  stream.Rollovers,
	}
}

// refreshLoop drains the store into the window every RefreshDelay and
// broadcasts what changed.
func (s *Server) refreshLoop(ctx context.Context) {
	delay := s.currentSettings().RefreshDelay
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
			if d := s.currentSettings().RefreshDelay; d != delay {
				delay = d
				ticker.Reset(delay)
			}
		}
	}
}

func (s *Server) currentSettings() Settings {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.settings
}

// refresh performs one visualization tick.
func (s *Server) refresh() {
	store := s.deps.Pipeline.Store()

	d := store.DrainNew()
	text := s.deps.Pipeline.Monitor().Drain()
	rows, width := store.Len()
	s.deps.Metrics.Dataset(rows, width)

	st := s.currentSettings()
	if s.deps.Recorder != nil && s.deps.Recorder.Enabled() {
		s.viewMu.Lock()
		batch, next := store.RowsSince(s.recorded)
		s.recorded = next
		s.viewMu.Unlock()
		s.deps.Recorder.Record(stream.ColumnLabels(st.Labels, st.Delimiter, width), batch)
	}

	if text != "" {
		s.viewMu.Lock()
		s.doc = stream.SpliceHTML(s.doc, text)
		s.viewMu.Unlock()
	}
	if d.Empty() && text == "" {
		return
	}

	frame := Frame{Monitor: text, Stamp: time.Now().UnixMilli()}
	if !d.Empty() {
		s.deps.Window.Append(d)
		s.deps.Metrics.Delivered()
		marker := s.deps.Window.Marker()
		frame.Delta = &d
		frame.Marker = &marker
	}
	s.broadcast(frame)

	if s.deps.Publisher != nil && frame.Delta != nil {
		status := s.deps.Manager.Status()
		err := s.deps.Publisher.Publish(publish.Message{
			Session: status.Session,
			Port:    status.Port,
			Labels:  stream.ColumnLabels(st.Labels, st.Delimiter, st.MaxCols),
			Delta:   d,
			Stamp:   frame.Stamp,
		})
		if err != nil {
			log.Printf("[mqtt] %v", err)
		}
	}
}

// clearPlot empties the dataset and the window, and tells clients.
func (s *Server) clearPlot() {
	s.deps.Pipeline.Store().Clear()
	s.deps.Window.Clear()
	s.viewMu.Lock()
	s.recorded = 0
	s.viewMu.Unlock()
	s.broadcast(Frame{Reset: true, View: s.view(), Stamp: time.Now().UnixMilli()})
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[ws] encode frame: %v", err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
