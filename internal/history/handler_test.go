package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	httperr "github.com/aevon-lab/project-tracklog/internal/core/errors"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
)

type stubSessions struct {
	err error
}

func (s stubSessions) Do(_ context.Context, fn func(session string) error) error {
	if s.err != nil {
		return s.err
	}
	return fn("tok")
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) EnumSchemas(ctx context.Context, session string) ([]autograph.Schema, error) {
	args := m.Called(ctx, session)
	schemas, _ := args.Get(0).([]autograph.Schema)
	return schemas, args.Error(1)
}

func (m *mockDirectory) EnumDevices(ctx context.Context, session, schemaID string) (*autograph.DeviceList, error) {
	args := m.Called(ctx, session, schemaID)
	list, _ := args.Get(0).(*autograph.DeviceList)
	return list, args.Error(1)
}

func (m *mockDirectory) GetOnlineInfo(ctx context.Context, session string, req autograph.OnlineInfoRequest) (autograph.OnlineInfoResponse, error) {
	args := m.Called(ctx, session, req)
	resp, _ := args.Get(0).(autograph.OnlineInfoResponse)
	return resp, args.Error(1)
}

func (m *mockDirectory) GetTripsTotal(ctx context.Context, session string, req autograph.TripsTotalRequest) (autograph.TripsTotalResponse, error) {
	args := m.Called(ctx, session, req)
	resp, _ := args.Get(0).(autograph.TripsTotalResponse)
	return resp, args.Error(1)
}

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *mockSnapshots) LatestSnapshot(ctx context.Context, schemaID string) (*storage.Snapshot, error) {
	args := m.Called(ctx, schemaID)
	snap, _ := args.Get(0).(*storage.Snapshot)
	return snap, args.Error(1)
}

func (m *mockSnapshots) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type handlerFixture struct {
	router    *gin.Engine
	source    *stubSource
	directory *mockDirectory
	snapshots *mockSnapshots
}

func newHandlerFixture(t *testing.T, sessions Sessions, withStore bool) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		source: &stubSource{fn: func(req autograph.TripItemsRequest) (autograph.TripItemsResponse, error) {
			return itemsFor(req, "2025-01-01 10:00:00"), nil
		}},
		directory: &mockDirectory{},
	}

	var store storage.SnapshotStore
	if withStore {
		f.snapshots = &mockSnapshots{}
		store = f.snapshots
	}

	cat := testCatalog(t)
	svc := NewService(NewPipeline(NewFetcher(f.source, 0, 0), cat, 2), f.directory, sessions, cat, store, "S1")

	f.router = gin.New()
	svc.RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httperr.ErrorResponse {
	t.Helper()
	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleHistory_OK(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)

	w := f.do(http.MethodPost, "/v1/history", map[string]any{
		"device_ids": []string{"D1"},
		"start_date": "2025-01-01",
		"end_date":   "2025-01-02",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, corehistory.DataTypeExtended, res.DataType)
	require.Equal(t, 1, res.TotalRecords)
	require.Equal(t, "Truck 1", res.TimeSeries[0].VehicleName)

	// schema falls back to the configured default
	require.Equal(t, "S1", f.source.calls[0].SchemaID)
}

func TestHandleHistory_EmptyInputReturnsEmptyResult(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)

	w := f.do(http.MethodPost, "/v1/history", map[string]any{
		"device_ids": []string{},
		"start_date": "2025-01-01",
		"end_date":   "2025-01-02",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, corehistory.DataTypeEmpty, res.DataType)
	require.Equal(t, ReasonNoInput, res.Reason)
	require.Zero(t, f.source.callCount())
}

func TestHandleHistory_Errors(t *testing.T) {
	tests := []struct {
		name      string
		sessions  Sessions
		body      any
		wantCode  int
		wantError string
	}{
		{
			name:      "malformed json",
			sessions:  stubSessions{},
			body:      `{"device_ids": [`,
			wantCode:  http.StatusBadRequest,
			wantError: httperr.HttpInvalidJsonError,
		},
		{
			name:      "invalid date",
			sessions:  stubSessions{},
			body:      map[string]any{"device_ids": []string{"D1"}, "start_date": "yesterday", "end_date": "2025-01-02"},
			wantCode:  http.StatusBadRequest,
			wantError: httperr.HttpInvalidQueryError,
		},
		{
			name:      "login rejected",
			sessions:  stubSessions{err: autograph.ErrUnauthorized},
			body:      map[string]any{"device_ids": []string{"D1"}, "start_date": "2025-01-01", "end_date": "2025-01-02"},
			wantCode:  http.StatusBadGateway,
			wantError: httperr.HttpUpstreamAuthError,
		},
		{
			name:      "upstream unreachable",
			sessions:  stubSessions{err: errors.New("dial tcp: connection refused")},
			body:      map[string]any{"device_ids": []string{"D1"}, "start_date": "2025-01-01", "end_date": "2025-01-02"},
			wantCode:  http.StatusBadGateway,
			wantError: httperr.HttpUpstreamDownError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, tt.sessions, false)
			w := f.do(http.MethodPost, "/v1/history", tt.body)
			require.Equal(t, tt.wantCode, w.Code)
			require.Equal(t, tt.wantError, decodeError(t, w).ErrorType)
		})
	}
}

func TestHandleBuckets(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)

	w := f.do(http.MethodPost, "/v1/history/buckets", map[string]any{
		"device_ids": []string{"D1"},
		"start_date": "2025-01-01",
		"end_date":   "2025-01-02",
		"resolution": "day",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res BucketResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, corehistory.ResolutionDay, res.Resolution)
	require.Len(t, res.Buckets, 1)
	require.Equal(t, "2025-01-01", res.Buckets[0].Timestamp)

	w = f.do(http.MethodPost, "/v1/history/buckets", map[string]any{
		"device_ids": []string{"D1"},
		"start_date": "2025-01-01",
		"end_date":   "2025-01-02",
		"resolution": "week",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, httperr.HttpInvalidQueryError, decodeError(t, w).ErrorType)
}

func TestHandleListSchemas(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)
	f.directory.On("EnumSchemas", mock.Anything, "tok").
		Return([]autograph.Schema{{ID: "S1", Name: "Fleet"}}, nil).Once()

	w := f.do(http.MethodGet, "/v1/schemas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"schemas":[{"ID":"S1","Name":"Fleet"}],"default_schema":"S1"}`, w.Body.String())
	f.directory.AssertExpectations(t)
}

func TestHandleListDevices(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)
	f.directory.On("EnumDevices", mock.Anything, "tok", "S2").
		Return(&autograph.DeviceList{Items: []autograph.Device{{ID: "D1", Name: "Truck 1"}}}, nil).Once()
	f.directory.On("EnumDevices", mock.Anything, "tok", "S3").
		Return(nil, errors.New("500 Internal Server Error")).Once()

	w := f.do(http.MethodGet, "/v1/schemas/S2/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"schema_id":"S2","devices":[{"ID":"D1","Name":"Truck 1"}]}`, w.Body.String())

	w = f.do(http.MethodGet, "/v1/schemas/S3/devices", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, httperr.HttpUpstreamDownError, decodeError(t, w).ErrorType)
	f.directory.AssertExpectations(t)
}

func TestHandleListParameters(t *testing.T) {
	f := newHandlerFixture(t, stubSessions{}, false)

	w := f.do(http.MethodGet, "/v1/parameters", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Groups      []corehistory.ParameterGroup `json:"groups"`
		Fallback    []string                     `json:"fallback"`
		Fingerprint string                       `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Groups, 2)
	require.Equal(t, []string{"MaxSpeed"}, body.Fallback)
	require.NotEmpty(t, body.Fingerprint)
}

func TestHandleLatestSnapshot(t *testing.T) {
	t.Run("no store configured", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, false)
		w := f.do(http.MethodGet, "/v1/snapshots/latest", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, httperr.HttpNotFoundError, decodeError(t, w).ErrorType)
	})

	t.Run("found", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, true)
		f.snapshots.On("LatestSnapshot", mock.Anything, "S1").
			Return(&storage.Snapshot{ID: "snap-1", SchemaID: "S1", TotalRecords: 12}, nil).Once()

		w := f.do(http.MethodGet, "/v1/snapshots/latest", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var snap storage.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		require.Equal(t, "snap-1", snap.ID)
		require.Equal(t, 12, snap.TotalRecords)
	})

	t.Run("not found", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, true)
		f.snapshots.On("LatestSnapshot", mock.Anything, "S9").
			Return(nil, storage.ErrNotFound).Once()

		w := f.do(http.MethodGet, "/v1/snapshots/latest?schema_id=S9", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("database failure", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, true)
		f.snapshots.On("LatestSnapshot", mock.Anything, "S1").
			Return(nil, errors.New("connection reset")).Once()

		w := f.do(http.MethodGet, "/v1/snapshots/latest", nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Equal(t, httperr.HttpInternalError, decodeError(t, w).ErrorType)
	})
}

func TestHandleOnline(t *testing.T) {
	t.Run("selected devices", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, false)
		f.directory.On("GetOnlineInfo", mock.Anything, "tok", autograph.OnlineInfoRequest{
			SchemaID:    "S2",
			DeviceIDs:   []string{"D1", "D2"},
			FinalParams: onlineFinalParams,
		}).Return(autograph.OnlineInfoResponse{
			"D1": {
				Name:         "Truck 1",
				DT:           "2025-01-01 10:00:00",
				Speed:        "42,5",
				Address:      "Depot",
				LastPosition: &autograph.GeoPoint{Lat: 56.83, Lng: "60,6"},
				Final:        map[string]any{"FL1": 100.04, "FL2": 20.0, "EngineHours": "1500"},
			},
		}, nil).Once()

		w := f.do(http.MethodGet, "/v1/schemas/S2/online?device_ids=D1,D2&device_ids=D1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res OnlineResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Equal(t, "S2", res.SchemaID)
		require.Len(t, res.Vehicles, 2)

		d1 := res.Vehicles[0]
		require.Equal(t, "D1", d1.DeviceID)
		require.True(t, d1.Online)
		require.Equal(t, "2025-01-01 10:00:00", d1.LastUpdate)
		require.Equal(t, 42.5, *d1.Speed)
		require.Equal(t, 56.83, *d1.Latitude)
		require.Equal(t, 60.6, *d1.Longitude)
		require.Equal(t, 120.0, *d1.FuelLevel)
		require.Equal(t, 1500.0, *d1.EngineHours)

		require.Equal(t, VehicleStatus{DeviceID: "D2"}, res.Vehicles[1])
		f.directory.AssertExpectations(t)
	})

	t.Run("whole schema", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, false)
		f.directory.On("GetOnlineInfo", mock.Anything, "tok", mock.MatchedBy(func(req autograph.OnlineInfoRequest) bool {
			return req.SchemaID == "S2" && len(req.DeviceIDs) == 0
		})).Return(autograph.OnlineInfoResponse{"D9": {Name: "Bus"}}, nil).Once()

		w := f.do(http.MethodGet, "/v1/schemas/S2/online", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res OnlineResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Vehicles, 1)
		require.Equal(t, "D9", res.Vehicles[0].DeviceID)
		require.True(t, res.Vehicles[0].Online)
		require.Nil(t, res.Vehicles[0].FuelLevel)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, false)
		f.directory.On("GetOnlineInfo", mock.Anything, "tok", mock.Anything).
			Return(nil, autograph.ErrUnexpectedStatus).Once()

		w := f.do(http.MethodGet, "/v1/schemas/S2/online", nil)
		require.Equal(t, http.StatusBadGateway, w.Code)
		require.Equal(t, httperr.HttpUpstreamDownError, decodeError(t, w).ErrorType)
	})
}

func TestHandleTripsTotal(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newHandlerFixture(t, stubSessions{}, false)
		f.directory.On("GetTripsTotal", mock.Anything, "tok", autograph.TripsTotalRequest{
			SchemaID:  "S1",
			DeviceIDs: []string{"D1", "D2"},
			Start:     "20250101-0000",
			End:       "20250102-2359",
		}).Return(autograph.TripsTotalResponse{
			"D2": {Name: "Truck 2"},
			"D1": {
				Name:  "Truck 1",
				Trips: []map[string]any{{"Index": 0.0}, {"Index": 1.0}},
				Total: map[string]any{"TotalDistance": 30.5},
			},
		}, nil).Once()

		w := f.do(http.MethodPost, "/v1/trips/total", map[string]any{
			"device_ids": []string{"D1", " D2 ", "D1"},
			"start_date": "2025-01-01",
			"end_date":   "2025-01-02",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var res TripsTotalResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Equal(t, "S1", res.SchemaID)
		require.Equal(t, Period{Start: "20250101-0000", End: "20250102-2359"}, res.Period)
		require.Equal(t, 2, res.TripCount)
		require.Len(t, res.Devices, 2)
		require.Equal(t, "D1", res.Devices[0].DeviceID)
		require.Equal(t, map[string]any{"TotalDistance": 30.5}, res.Devices[0].Total)
		require.Equal(t, "D2", res.Devices[1].DeviceID)
		require.Empty(t, res.Devices[1].Trips)
		f.directory.AssertExpectations(t)
	})

	tests := []struct {
		name      string
		body      any
		upstream  error
		wantCode  int
		wantError string
	}{
		{
			name:      "no devices",
			body:      map[string]any{"device_ids": []string{" "}, "start_date": "2025-01-01", "end_date": "2025-01-02"},
			wantCode:  http.StatusBadRequest,
			wantError: httperr.HttpInvalidQueryError,
		},
		{
			name:      "bad date",
			body:      map[string]any{"device_ids": []string{"D1"}, "start_date": "soon", "end_date": "2025-01-02"},
			wantCode:  http.StatusBadRequest,
			wantError: httperr.HttpInvalidQueryError,
		},
		{
			name:      "malformed json",
			body:      `{"device_ids":`,
			wantCode:  http.StatusBadRequest,
			wantError: httperr.HttpInvalidJsonError,
		},
		{
			name:      "upstream failure",
			body:      map[string]any{"device_ids": []string{"D1"}, "start_date": "2025-01-01", "end_date": "2025-01-02"},
			upstream:  errors.New("timeout"),
			wantCode:  http.StatusBadGateway,
			wantError: httperr.HttpUpstreamDownError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, stubSessions{}, false)
			if tt.upstream != nil {
				f.directory.On("GetTripsTotal", mock.Anything, "tok", mock.Anything).Return(nil, tt.upstream).Once()
			}

			w := f.do(http.MethodPost, "/v1/trips/total", tt.body)
			require.Equal(t, tt.wantCode, w.Code)
			require.Equal(t, tt.wantError, decodeError(t, w).ErrorType)
			f.directory.AssertExpectations(t)
		})
	}
}
