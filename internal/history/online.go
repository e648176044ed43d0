package history

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
)

// onlineFinalParams are requested with every online query so fuel level and
// engine hours can be reported.
var onlineFinalParams = []string{"TankMainFuelLevel", "FL1", "FL2", "FuelLevel", "EngineHours"}

// VehicleStatus is the latest known state of one vehicle. Online is false for
// requested devices the upstream did not report.
type VehicleStatus struct {
	DeviceID    string         `json:"device_id"`
	Name        string         `json:"name,omitempty"`
	Online      bool           `json:"online"`
	LastUpdate  string         `json:"last_update,omitempty"`
	Speed       *float64       `json:"speed"`
	Latitude    *float64       `json:"latitude"`
	Longitude   *float64       `json:"longitude"`
	Address     string         `json:"address,omitempty"`
	FuelLevel   *float64       `json:"fuel_level"`
	EngineHours *float64       `json:"engine_hours"`
	Final       map[string]any `json:"final,omitempty"`
}

// OnlineResult lists vehicle states ordered by device id.
type OnlineResult struct {
	SchemaID string          `json:"schema_id"`
	Vehicles []VehicleStatus `json:"vehicles"`
}

// DeviceTripsTotal is one device's trips and period totals.
type DeviceTripsTotal struct {
	DeviceID string           `json:"device_id"`
	Name     string           `json:"name"`
	Trips    []map[string]any `json:"trips"`
	Total    map[string]any   `json:"total,omitempty"`
}

// TripsTotalResult lists per-device trip totals ordered by device id.
type TripsTotalResult struct {
	SchemaID  string             `json:"schema_id"`
	Period    Period             `json:"period"`
	TripCount int                `json:"trip_count"`
	Devices   []DeviceTripsTotal `json:"devices"`
}

// Online returns the latest state of deviceIDs, or of every device in the
// schema when deviceIDs is empty.
func (s *Service) Online(ctx context.Context, schemaID string, deviceIDs []string) (*OnlineResult, error) {
	schemaID = s.schemaOrDefault(schemaID)
	if schemaID == "" {
		return nil, invalidQueryf("schema_id is required")
	}
	ids := cleanDeviceIDs(deviceIDs)

	req := autograph.OnlineInfoRequest{SchemaID: schemaID, DeviceIDs: ids, FinalParams: onlineFinalParams}
	var resp autograph.OnlineInfoResponse
	err := s.sessions.Do(ctx, func(session string) error {
		var callErr error
		resp, callErr = s.directory.GetOnlineInfo(ctx, session, req)
		return callErr
	})
	if err != nil {
		return nil, classify("online info", err)
	}

	vehicles := make([]VehicleStatus, 0, len(resp)+len(ids))
	for id, info := range resp {
		vehicles = append(vehicles, vehicleStatus(id, info))
	}
	for _, id := range ids {
		if _, ok := resp[id]; !ok {
			vehicles = append(vehicles, VehicleStatus{DeviceID: id})
		}
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].DeviceID < vehicles[j].DeviceID })

	slog.Debug("[Service] Online info loaded", "schema_id", schemaID, "requested", len(ids), "reported", len(resp))
	return &OnlineResult{SchemaID: schemaID, Vehicles: vehicles}, nil
}

// TripsTotal returns per-trip totals for req's devices over its period.
// Unlike History, an empty device list or date is rejected.
func (s *Service) TripsTotal(ctx context.Context, req Request) (*TripsTotalResult, error) {
	schemaID := s.schemaOrDefault(req.SchemaID)
	if schemaID == "" {
		return nil, invalidQueryf("schema_id is required")
	}
	ids := cleanDeviceIDs(req.DeviceIDs)
	if len(ids) == 0 {
		return nil, invalidQueryf("device_ids is required")
	}
	period, err := normalizePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	upstreamReq := autograph.TripsTotalRequest{
		SchemaID:          schemaID,
		DeviceIDs:         ids,
		Start:             period.Start,
		End:               period.End,
		TripSplitterIndex: s.pipeline.fetcher.splitterIndex,
	}
	var resp autograph.TripsTotalResponse
	err = s.sessions.Do(ctx, func(session string) error {
		var callErr error
		resp, callErr = s.directory.GetTripsTotal(ctx, session, upstreamReq)
		return callErr
	})
	if err != nil {
		return nil, classify("trips total", err)
	}

	res := &TripsTotalResult{SchemaID: schemaID, Period: period, Devices: make([]DeviceTripsTotal, 0, len(resp))}
	for id, dev := range resp {
		trips := dev.Trips
		if trips == nil {
			trips = []map[string]any{}
		}
		res.TripCount += len(trips)
		res.Devices = append(res.Devices, DeviceTripsTotal{DeviceID: id, Name: dev.Name, Trips: trips, Total: dev.Total})
	}
	sort.Slice(res.Devices, func(i, j int) bool { return res.Devices[i].DeviceID < res.Devices[j].DeviceID })
	return res, nil
}

func vehicleStatus(id string, info autograph.OnlineInfo) VehicleStatus {
	st := VehicleStatus{
		DeviceID:   id,
		Name:       info.Name,
		Online:     true,
		LastUpdate: info.DT,
		Speed:      numeric(info.Speed),
		Address:    info.Address,
		FuelLevel:  fuelLevel(info.Final),
		Final:      info.Final,
	}
	if st.LastUpdate == "" {
		st.LastUpdate = info.LastData
	}
	if info.LastPosition != nil {
		st.Latitude = numeric(info.LastPosition.Lat)
		st.Longitude = numeric(info.LastPosition.Lng)
	}
	if info.Final != nil {
		st.EngineHours = numeric(info.Final["EngineHours"])
	}
	return st
}

// fuelLevel prefers the main tank reading, then the sum of the FL1/FL2
// sensors, then the generic FuelLevel. The result has one decimal place.
func fuelLevel(final map[string]any) *float64 {
	if final == nil {
		return nil
	}
	level := numeric(final["TankMainFuelLevel"])
	if level == nil {
		fl1, fl2 := numeric(final["FL1"]), numeric(final["FL2"])
		switch {
		case fl1 != nil && fl2 != nil:
			sum := *fl1 + *fl2
			level = &sum
		case fl1 != nil:
			level = fl1
		default:
			level = fl2
		}
	}
	if level == nil {
		level = numeric(final["FuelLevel"])
	}
	if level == nil {
		return nil
	}
	rounded := decimal.NewFromFloat(*level).Round(1).InexactFloat64()
	return &rounded
}

func numeric(v any) *float64 {
	f, ok := corehistory.CoerceNumeric(v)
	if !ok {
		return nil
	}
	return &f
}
