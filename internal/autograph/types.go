package autograph

import "github.com/aevon-lab/project-tracklog/internal/core/history"

// Schema is an upstream partition of devices.
type Schema struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
}

// Property is a free-form device attribute such as a license plate.
type Property struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Device is one tracked vehicle as listed by EnumDevices.
type Device struct {
	ID         string     `json:"ID"`
	Name       string     `json:"Name"`
	Serial     any        `json:"Serial,omitempty"`
	Properties []Property `json:"Properties,omitempty"`
}

// DeviceList is the EnumDevices response body.
type DeviceList struct {
	Items []Device `json:"Items"`
}

// TripItem is one record of a GetTripItems response. Values align with the
// owning device's Params.
type TripItem struct {
	DT       string `json:"DT"`
	Stage    string `json:"Stage"`
	Duration string `json:"Duration"`
	Caption  string `json:"Caption"`
	Values   []any  `json:"Values"`
}

// DeviceTripItems is one device's slice of a GetTripItems response.
type DeviceTripItems struct {
	Name   string     `json:"Name"`
	Params []string   `json:"Params"`
	Items  []TripItem `json:"Items"`
}

// TripItemsResponse maps device id to its trip items.
type TripItemsResponse map[string]DeviceTripItems

// TripItemsRequest selects trip items for a set of devices and one parameter batch.
type TripItemsRequest struct {
	SchemaID          string
	DeviceIDs         []string
	Start             string // YYYYMMDD-HHMM
	End               string
	TripSplitterIndex int
	Params            []string
	Stage             string // optional stage filter
}

// TripsTotalRequest selects per-trip totals for a set of devices.
type TripsTotalRequest struct {
	SchemaID          string
	DeviceIDs         []string
	Start             string
	End               string
	TripSplitterIndex int
}

// DeviceTrips is one device's slice of a GetTripsTotal response.
type DeviceTrips struct {
	Name  string           `json:"Name"`
	Trips []map[string]any `json:"Trips"`
	Total map[string]any   `json:"Total,omitempty"`
}

// TripsTotalResponse maps device id to its trip totals.
type TripsTotalResponse map[string]DeviceTrips

// OnlineInfoRequest selects the latest state of devices. An empty DeviceIDs
// asks for every device of the schema.
type OnlineInfoRequest struct {
	SchemaID    string
	DeviceIDs   []string
	FinalParams []string // extra parameters reported under Final
}

// GeoPoint is a position as sent upstream. Coordinates may arrive as numbers or strings.
type GeoPoint struct {
	Lat any `json:"Lat"`
	Lng any `json:"Lng"`
}

// OnlineInfo is one device's latest state.
type OnlineInfo struct {
	Name         string         `json:"Name,omitempty"`
	DT           string         `json:"DT,omitempty"`
	LastData     string         `json:"LastData,omitempty"`
	Speed        any            `json:"Speed,omitempty"`
	Address      string         `json:"Address,omitempty"`
	LastPosition *GeoPoint      `json:"LastPosition,omitempty"`
	Final        map[string]any `json:"Final,omitempty"`
}

// OnlineInfoResponse maps device id to its latest state.
type OnlineInfoResponse map[string]OnlineInfo

// loginResponse is the JSON form of a Login reply. Some deployments answer
// with a bare quoted token instead.
type loginResponse struct {
	Success bool   `json:"Success"`
	Session string `json:"Session"`
	Error   string `json:"Error"`
}

// ToBatchResult converts a GetTripItems response into the merge input shape.
func (r TripItemsResponse) ToBatchResult() history.BatchResult {
	out := make(history.BatchResult, len(r))
	for id, dev := range r {
		records := make([]history.RawRecord, 0, len(dev.Items))
		for _, item := range dev.Items {
			records = append(records, history.RawRecord{
				Timestamp: item.DT,
				Stage:     history.ParseStage(item.Stage),
				Duration:  item.Duration,
				Caption:   item.Caption,
				Values:    item.Values,
			})
		}
		params := make([]string, len(dev.Params))
		copy(params, dev.Params)
		out[id] = history.DeviceRecordSet{
			Name:       dev.Name,
			Parameters: params,
			Records:    records,
		}
	}
	return out
}
