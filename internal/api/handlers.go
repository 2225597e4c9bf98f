package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/tracker"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// UsageEvent is the body of POST /api/usage.
type UsageEvent struct {
	DeviceID string `json:"deviceId"`
	AppName  string `json:"appName"`
	Running  bool   `json:"running"`
}

// BatteryEvent is the body of POST /api/battery.
type BatteryEvent struct {
	DeviceID   string  `json:"deviceId"`
	Level      float64 `json:"level"`
	IsCharging bool    `json:"isCharging"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var event UsageEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if event.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	if event.Running && event.AppName == "" {
		writeError(w, http.StatusBadRequest, "appName is required for running events")
		return
	}

	if err := s.tracker.RecordUsage(r.Context(), event.DeviceID, event.AppName, event.Running); err != nil {
		if errors.Is(err, tracker.ErrEmptyDeviceID) {
			writeError(w, http.StatusBadRequest, "deviceId is required")
			return
		}
		s.logger.Error().Err(err).Str("device", event.DeviceID).Msg("Failed to record usage")
		writeError(w, http.StatusInternalServerError, "Failed to record usage")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRecordBattery(w http.ResponseWriter, r *http.Request) {
	var event BatteryEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if event.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	if event.Level < 0 || event.Level > 100 {
		writeError(w, http.StatusBadRequest, "level must be between 0 and 100")
		return
	}

	if err := s.tracker.RecordBattery(event.DeviceID, event.Level, event.IsCharging); err != nil {
		s.logger.Error().Err(err).Str("device", event.DeviceID).Msg("Failed to record battery")
		writeError(w, http.StatusInternalServerError, "Failed to record battery")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.tracker.Devices()

	type deviceView struct {
		Device           string    `json:"device"`
		CurrentApp       string    `json:"currentApp"`
		Running          bool      `json:"running"`
		RunningSince     time.Time `json:"runningSince"`
		BatteryLevel     float64   `json:"batteryLevel"`
		IsCharging       bool      `json:"isCharging"`
		BatteryTimestamp string    `json:"batteryTimestamp,omitempty"`
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{
			Device:       d.DeviceID,
			CurrentApp:   d.CurrentApp,
			Running:      d.Running,
			RunningSince: d.RunningSince,
			BatteryLevel: d.Battery.Level,
			IsCharging:   d.Battery.IsCharging,
		}
		if !d.Battery.Timestamp.IsZero() {
			view.BatteryTimestamp = d.Battery.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, view)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	date, err := s.queryDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format. Please use YYYY-MM-DD format.")
		return
	}

	result, err := s.stats.Daily(r.Context(), r.URL.Query().Get("deviceId"), date)
	if err != nil {
		s.logger.Error().Err(err).Msg("Daily stats query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWeeklyStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.stats.Weekly(r.Context(),
		r.URL.Query().Get("deviceId"),
		r.URL.Query().Get("appName"),
		queryInt(r, "weekOffset"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Weekly stats query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.stats.Monthly(r.Context(),
		r.URL.Query().Get("deviceId"),
		r.URL.Query().Get("appName"),
		queryInt(r, "monthOffset"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Monthly stats query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDailyEyeTime(w http.ResponseWriter, r *http.Request) {
	date, err := s.queryDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format. Please use YYYY-MM-DD format.")
		return
	}

	result, err := s.eyetime.Daily(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Msg("Daily eye time query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWeeklyEyeTime(w http.ResponseWriter, r *http.Request) {
	result, err := s.eyetime.Weekly(r.Context(), queryInt(r, "weekOffset"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Weekly eye time query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMonthlyEyeTime(w http.ResponseWriter, r *http.Request) {
	result, err := s.eyetime.Monthly(r.Context(), queryInt(r, "monthOffset"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Monthly eye time query failed")
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryDate parses the optional date parameter, defaulting to today.
func (s *Server) queryDate(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.calendar.Today(), nil
	}
	return s.tz.ParseCalendarDate(raw)
}

// queryInt parses an optional integer parameter, treating junk as zero.
func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
