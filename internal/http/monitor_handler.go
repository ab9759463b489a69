package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"workplace-monitor/internal/cloudsync"
	"workplace-monitor/internal/models"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// OccupancyView live state and daily totals.
type OccupancyView interface {
	ZoneStatus(zoneID int64) models.DisplayStatus
	ZoneElapsed(zoneID int64) time.Duration
	DisplayDailyTotal(ctx context.Context, zoneID int64) (time.Duration, error)
	EmployeeDailyTotal(ctx context.Context, employeeID int64) (time.Duration, error)
	ClientsServed(ctx context.Context, employeeID int64) (int64, error)
	NetServiceTime(d time.Duration) time.Duration
}

// Directory zone and employee configuration.
type Directory interface {
	ListZones(ctx context.Context) ([]models.Zone, error)
	GetZone(ctx context.Context, zoneID int64) (*models.Zone, error)
	GetEmployee(ctx context.Context, employeeID int64) (*models.Employee, error)
}

type SyncHealth interface {
	Health() cloudsync.Health
}

type ReportGenerator interface {
	DailyReport(ctx context.Context, day string) ([]byte, error)
}

type MonitorHandler struct {
	occupancy OccupancyView
	directory Directory
	sync      SyncHealth
	reports   ReportGenerator
	clock     quartz.Clock
	logger    *zap.Logger
}

func NewMonitorHandler(occupancy OccupancyView, directory Directory, sync SyncHealth, reports ReportGenerator, clock quartz.Clock, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{
		occupancy: occupancy,
		directory: directory,
		sync:      sync,
		reports:   reports,
		clock:     clock,
		logger:    logger,
	}
}

// ZoneView one zone as shown on the display.
type ZoneView struct {
	ZoneID            int64                `json:"zone_id"`
	CameraID          int64                `json:"camera_id"`
	Name              string               `json:"name"`
	ZoneType          string               `json:"zone_type"`
	EmployeeID        *int64               `json:"employee_id,omitempty"`
	LinkedZoneID      *int64               `json:"linked_zone_id,omitempty"`
	Status            models.DisplayStatus `json:"status"`
	ElapsedSeconds    float64              `json:"elapsed_seconds"`
	NetServiceSeconds *float64             `json:"net_service_seconds,omitempty"`
	DailyTotalSeconds float64              `json:"daily_total_seconds"`
}

// EmployeeDailyView today's totals of one employee.
type EmployeeDailyView struct {
	EmployeeID    int64   `json:"employee_id"`
	Name          string  `json:"name"`
	Position      string  `json:"position"`
	Date          string  `json:"date"`
	WorkSeconds   float64 `json:"work_seconds"`
	ClientsServed int64   `json:"clients_served"`
}

func (h *MonitorHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"status": "ok",
		"time":   h.clock.Now(),
	}))
}

func (h *MonitorHandler) zoneView(ctx context.Context, z models.Zone) (ZoneView, error) {
	elapsed := h.occupancy.ZoneElapsed(z.ID)
	v := ZoneView{
		ZoneID:         z.ID,
		CameraID:       z.CameraID,
		Name:           z.Name,
		ZoneType:       z.ZoneType.String(),
		EmployeeID:     z.EmployeeID,
		LinkedZoneID:   z.LinkedEmployeeID,
		Status:         h.occupancy.ZoneStatus(z.ID),
		ElapsedSeconds: elapsed.Seconds(),
	}
	if z.ZoneType == models.ZoneTypeClient {
		net := h.occupancy.NetServiceTime(elapsed).Seconds()
		v.NetServiceSeconds = &net
	}
	total, err := h.occupancy.DisplayDailyTotal(ctx, z.ID)
	if err != nil {
		return v, err
	}
	v.DailyTotalSeconds = total.Seconds()
	return v, nil
}

func (h *MonitorHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.directory.ListZones(r.Context())
	if err != nil {
		h.logger.Error("Failed to list zones", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list zones"))
		return
	}
	out := make([]ZoneView, 0, len(zones))
	for _, z := range zones {
		v, err := h.zoneView(r.Context(), z)
		if err != nil {
			h.logger.Error("Failed to compute zone totals", zap.Int64("zone_id", z.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("failed to compute zone totals"))
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *MonitorHandler) GetZone(w http.ResponseWriter, r *http.Request, zoneID int64) {
	z, err := h.directory.GetZone(r.Context(), zoneID)
	if err != nil {
		h.logger.Error("Failed to get zone", zap.Int64("zone_id", zoneID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get zone"))
		return
	}
	if z == nil {
		writeJSON(w, http.StatusNotFound, Fail("zone not found"))
		return
	}
	v, err := h.zoneView(r.Context(), *z)
	if err != nil {
		h.logger.Error("Failed to compute zone totals", zap.Int64("zone_id", zoneID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to compute zone totals"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(v))
}

func (h *MonitorHandler) EmployeeDaily(w http.ResponseWriter, r *http.Request, employeeID int64) {
	ctx := r.Context()
	e, err := h.directory.GetEmployee(ctx, employeeID)
	if err != nil {
		h.logger.Error("Failed to get employee", zap.Int64("employee_id", employeeID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get employee"))
		return
	}
	if e == nil {
		writeJSON(w, http.StatusNotFound, Fail("employee not found"))
		return
	}

	total, err := h.occupancy.EmployeeDailyTotal(ctx, employeeID)
	if err != nil {
		h.logger.Error("Failed to compute employee total", zap.Int64("employee_id", employeeID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to compute daily total"))
		return
	}
	served, err := h.occupancy.ClientsServed(ctx, employeeID)
	if err != nil {
		h.logger.Error("Failed to count clients served", zap.Int64("employee_id", employeeID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to count clients served"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(EmployeeDailyView{
		EmployeeID:    e.ID,
		Name:          e.Name,
		Position:      e.Position,
		Date:          models.DateKey(h.clock.Now()),
		WorkSeconds:   total.Seconds(),
		ClientsServed: served,
	}))
}

func (h *MonitorHandler) SyncStatus(w http.ResponseWriter, _ *http.Request) {
	if h.sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("sync service not running"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.sync.Health()))
}

func (h *MonitorHandler) DailyReport(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day == "" {
		day = models.DateKey(h.clock.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("date must be YYYY-MM-DD"))
		return
	}

	data, err := h.reports.DailyReport(r.Context(), day)
	if err != nil {
		h.logger.Error("Failed to generate daily report", zap.String("day", day), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate report"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=occupancy-%s.xlsx", day))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
