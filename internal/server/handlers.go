package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shaunagostinho/serialdash/internal/conn"
	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/export"
	"github.com/shaunagostinho/serialdash/internal/stream"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// notice is the inline message returned by file operations.
type notice struct {
	Notice string `json:"notice"`
	Path   string `json:"path,omitempty"`
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return false
	}
	return true
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.reconfigure()
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// reconfigure applies the current config. A changed time base clears the
// plot, since old and new timestamps are not comparable.
func (s *Server) reconfigure() {
	next, err := s.cfg.Settings()
	if err != nil {
		log.Printf("[config] %v", err)
		return
	}
	s.viewMu.Lock()
	prev := s.settings
	s.settings = next
	s.viewMu.Unlock()

	s.apply(next)
	if prev.Time != next.Time {
		log.Printf("[config] time base changed, clearing plot")
		s.clearPlot()
		return
	}
	s.broadcast(Frame{View: s.view(), Stamp: time.Now().UnixMilli()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rows, width := s.deps.Pipeline.Store().Len()
	writeJSON(w, 200, struct {
		*StatusFrame
		Rows  int   `json:"rows"`
		Width int   `json:"width"`
		View  *View `json:"view"`
	}{s.statusFrame(s.deps.Manager.Status()), rows, width, s.view()})
}

// handlePorts lists the catalog (GET) or changes the selection (POST).
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	cat := s.deps.Manager.Catalog()
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, struct {
			Ports    []device.PortInfo `json:"ports"`
			Selected string            `json:"selected"`
		}{cat.Options(), cat.Selected()})

	case http.MethodPost:
		var req struct {
			Port string `json:"port"`
		}
		if err := decodeBody(r, &req); err != nil || req.Port == "" {
			http.Error(w, "port required", 400)
			return
		}
		cat.Select(req.Port)
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	serial, _, _ := s.cfg.Snapshot()
	req := struct {
		Port     string `json:"port"`
		BaudRate int    `json:"baudRate"`
	}{BaudRate: serial.BaudRate}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if !device.ValidBaudRate(req.BaudRate) {
		err := &ConfigError{"baudRate", strconv.Itoa(req.BaudRate), itoas(device.BaudRates)}
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Port != "" {
		s.deps.Manager.Catalog().Select(req.Port)
	}

	err := s.connect(req.Port, req.BaudRate)
	st := s.statusFrame(s.deps.Manager.Status())
	switch {
	case err == nil:
		writeJSON(w, 200, st)
	case errors.Is(err, conn.ErrAlreadyConnected):
		writeJSON(w, 409, st)
	case errors.Is(err, conn.ErrNoPort):
		http.Error(w, err.Error(), 400)
	default:
		writeJSON(w, 502, st)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.deps.Manager.Disconnect(); err != nil {
		http.Error(w, err.Error(), 409)
		return
	}
	writeJSON(w, 200, s.statusFrame(s.deps.Manager.Status()))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Manager.Acknowledge()
	writeJSON(w, 200, s.statusFrame(s.deps.Manager.Status()))
}

// encodeSend turns user input into bytes. Mode "ascii" sends the text as
// ASCII; mode "bytes" sends one byte given as an integer 0..255.
func encodeSend(text, mode string) ([]byte, error) {
	switch mode {
	case "", "ascii":
		for i := 0; i < len(text); i++ {
			if text[i] > 0x7f {
				return nil, errors.New("input is not ASCII")
			}
		}
		return []byte(text), nil
	case "bytes":
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n < 0 || n > 255 {
			return nil, errors.New("input must be an integer between 0 and 255")
		}
		return []byte{byte(n)}, nil
	default:
		return nil, &ConfigError{"mode", mode, []string{"ascii", "bytes"}}
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Text string `json:"text"`
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	data, err := encodeSend(req.Text, req.Mode)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	n, err := s.deps.Manager.Send(data)
	if errors.Is(err, conn.ErrNotConnected) {
		http.Error(w, err.Error(), 409)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, 200, map[string]int{"sent": n})
}

// handleToggle serves {"enabled": bool} switches.
func (s *Server) handleToggle(set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := decodeBody(r, &req); err != nil || req.Enabled == nil {
			http.Error(w, "enabled required", 400)
			return
		}
		set(*req.Enabled)
		view := s.view()
		s.broadcast(Frame{View: view, Stamp: time.Now().UnixMilli()})
		writeJSON(w, 200, view)
	}
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		http.Error(w, "recording unavailable", 404)
		return
	}
	s.handleToggle(func(on bool) {
		if on {
			// Start from the current end of the dataset.
			_, next := s.deps.Pipeline.Store().RowsSince(0)
			s.viewMu.Lock()
			s.recorded = next
			s.viewMu.Unlock()
		}
		s.deps.Recorder.SetEnabled(on)
	})(w, r)
}

func (s *Server) handlePlotClear(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.clearPlot()
	writeOK(w)
}

func (s *Server) handleMonitorClear(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Pipeline.Monitor().Clear()
	s.viewMu.Lock()
	s.doc = monitorDoc
	s.viewMu.Unlock()
	writeOK(w)
}

// savePath resolves a requested file name inside the export directory, or a
// generated one when none was given. Absolute paths are used as given;
// relative ones may not leave the export directory.
func (s *Server) savePath(r *http.Request, kind, ext string) (string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		return "", err
	}
	_, exp, _ := s.cfg.Snapshot()
	name := req.Path
	if name == "" {
		name = export.FileName(exp.FilePrefix, kind, s.deps.Manager.Status().Session, ext, time.Now())
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("server: path %q leaves the export directory", name)
	}
	return filepath.Join(exp.Dir, name), nil
}

func writeNotice(w http.ResponseWriter, path string, err error) {
	switch {
	case err == nil:
		writeJSON(w, 200, notice{Notice: "saved to " + path, Path: path})
	case errors.Is(err, export.ErrExists):
		writeJSON(w, 409, notice{Notice: path + " already exists", Path: path})
	default:
		writeJSON(w, 500, notice{Notice: err.Error(), Path: path})
	}
}

func (s *Server) handlePlotSave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	path, err := s.savePath(r, "plot", ".csv")
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	st := s.currentSettings()
	rows, width := s.deps.Pipeline.Store().Snapshot()
	labels := stream.ColumnLabels(st.Labels, st.Delimiter, width)
	writeNotice(w, path, export.Dataset(path, labels, rows, st.Delimiter.Rune()))
}

func (s *Server) handleMonitorSave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	path, err := s.savePath(r, "monitor", ".txt")
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeNotice(w, path, export.Text(path, s.deps.Pipeline.Monitor().Text()))
}

// handleMonitor returns the console HTML document.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	s.viewMu.Lock()
	doc := s.doc
	s.viewMu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, doc)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := []stream.Stats{}
	for _, col := range s.deps.Window.Columns() {
		if st, ok := s.deps.Window.Stats(col); ok {
			out = append(out, st)
		}
	}
	writeJSON(w, 200, out)
}
