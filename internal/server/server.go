package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/earcapture/internal/audio"
	"github.com/audiolibrelab/earcapture/internal/protocol"
	"github.com/audiolibrelab/earcapture/internal/service"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

// Server represents the web server for monitoring and controlling the device
type Server struct {
	service  service.Service
	medium   *storage.AferoMedium
	registry *prometheus.Registry
	port     int
	timeout  time.Duration
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string              `json:"status"`
	Message   string              `json:"message,omitempty"`
	Session   *audio.SessionInfo  `json:"session,omitempty"`
	Stats     service.DeviceStats `json:"stats"`
	Tuning    protocol.Snapshot   `json:"tuning"`
	Config    *ResolvedConfigInfo `json:"resolved_config"`
	LastError string              `json:"last_error,omitempty"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	Profile    string `json:"profile"`
	StorageDir string `json:"storage_dir"`
	Source     string `json:"source"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Transport  string `json:"transport"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files      []service.RecordingInfo `json:"files"`
	TotalCount int                     `json:"total_count"`
}

// CommandRequest is the JSON body accepted by the command endpoint
type CommandRequest struct {
	Command string `json:"command"`
}

// New creates a new web server instance. registry may be nil, which
// disables /metrics.
func New(svc service.Service, medium *storage.AferoMedium, registry *prometheus.Registry, port int) *Server {
	return &Server{
		service:  svc,
		medium:   medium,
		registry: registry,
		port:     port,
		timeout:  5 * time.Second,
	}
}

// Handler returns the routing table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/record/start", s.handleStartRecording)
	mux.HandleFunc("/api/record/stop", s.handleStopRecording)
	mux.HandleFunc("/api/record/reset-sequence", s.handleResetSequence)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/tuning", s.handleTuning)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting status web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex serves a minimal landing page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>EarCapture</title>
</head>
<body>
    <h1>EarCapture</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>GET /api/status - Recorder, tuning and link status</li>
        <li>POST /api/record/start - Start recording</li>
        <li>POST /api/record/stop - Stop recording</li>
        <li>POST /api/record/reset-sequence - Restart auto naming at AUDIO001.WAV</li>
        <li>POST /api/command - Run a single-character command</li>
        <li>GET /api/tuning - Tuning state and prescription reports</li>
        <li>GET /api/files - List recordings</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status, session := s.service.GetRecordingStatus()
	response := StatusResponse{
		Status:    string(status),
		Message:   generateStatusMessage(status, session),
		Session:   session,
		Stats:     s.service.GetStats(),
		Tuning:    s.service.GetTuning(),
		Config:    s.getResolvedConfigInfo(),
		LastError: s.service.GetLastError(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	cfg := s.service.GetConfig()
	if cfg == nil {
		return nil
	}
	info := &ResolvedConfigInfo{
		StorageDir: cfg.Storage.Directory,
		Source:     cfg.Audio.Source,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Encoding:   cfg.Capture.Encoding,
		Transport:  cfg.Link.Transport,
	}
	if cfg.Inheritance != nil {
		info.Profile = cfg.Inheritance.Profile
	}
	return info
}

// handleStartRecording opens a new auto-named recording
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.service.StartRecording(ctx); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, audio.ErrInvalidState) || errors.Is(err, storage.ErrSequenceExhausted) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code, fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}

	_, session := s.service.GetRecordingStatus()
	response := map[string]interface{}{
		"success": true,
		"message": "Recording started",
	}
	if session != nil {
		response["file"] = session.OutputFile
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStopRecording stops the current recording session
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.service.StopRecording(ctx); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
	}
	if _, session := s.service.GetRecordingStatus(); session != nil {
		response["file"] = session.OutputFile
		response["data_bytes"] = session.DataBytes
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleResetSequence rewinds the auto-naming counter
func (s *Server) handleResetSequence(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.service.ResetSequence(ctx); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, audio.ErrInvalidState) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code, fmt.Sprintf("Failed to reset sequence: %v", err),
			"operation", "reset_sequence")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Recording sequence reset",
		"next":    "AUDIO001.WAV",
	})
}

// handleCommand runs one single-character command, given as a form value
// or a JSON body, and returns the device response text
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var command string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
			return
		}
		command = req.Command
	} else {
		if err := r.ParseForm(); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
			return
		}
		command = r.FormValue("command")
	}
	if len(command) != 1 {
		s.sendErrorResponse(w, http.StatusBadRequest, "command must be exactly one character")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	output, err := s.service.SendCommand(ctx, command[0])

	response := map[string]interface{}{
		"success": err == nil,
		"output":  output,
	}
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		response["error"] = err.Error()
		if errors.Is(err, protocol.ErrUnrecognizedCommand) {
			w.WriteHeader(http.StatusBadRequest)
		} else {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
	}
	json.NewEncoder(w).Encode(response)
}

// handleTuning returns the tuning state together with the PRESC report
// lines the remote app would receive
func (s *Server) handleTuning(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	snap := s.service.GetTuning()
	var reports strings.Builder
	if err := protocol.WriteReports(&reports, snap); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to render reports: %v", err), "operation", "tuning")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tuning":  snap,
		"reports": strings.Split(strings.TrimSuffix(reports.String(), "\n"), "\n"),
	})
}

// handleFiles lists the recordings on the medium
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_files")
		return
	}
	if files == nil {
		files = []service.RecordingInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{Files: files, TotalCount: len(files)})
}

// handleFileDownload serves a recording for download
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.medium == nil {
		http.Error(w, "No storage medium", http.StatusNotFound)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	file, err := s.medium.Fs().Open(path.Join(s.medium.Dir(), filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func generateStatusMessage(status audio.Status, session *audio.SessionInfo) string {
	switch status {
	case audio.StatusUnprepared:
		return "Storage not prepared yet"
	case audio.StatusRecording:
		if session != nil {
			return fmt.Sprintf("Recording in progress - %s", session.OutputFile)
		}
		return "Recording in progress"
	case audio.StatusStopped:
		if session != nil && session.Aborted {
			return fmt.Sprintf("Last recording aborted - %s", session.OutputFile)
		}
		return ""
	default:
		return ""
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	// Send JSON error response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
