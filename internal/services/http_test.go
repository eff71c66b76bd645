package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/ipgeo"
	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/lib/mapview"
	"github.com/roadwatch/defectmap/server/internal/navigator"
)

type testServer struct {
	router    *MockRouter
	finder    *MockDefectFinder
	locator   *MockLocator
	navigator *navigator.Navigator
	mux       *http.ServeMux
}

func newTestServer() *testServer {
	ts := &testServer{
		router:  &MockRouter{},
		finder:  &MockDefectFinder{},
		locator: &MockLocator{},
	}

	advisoryService := NewAdvisoryService(ts.router, ts.finder, advisory.HighTierPolicy, 20)
	heatMapService := NewHeatMapService(ts.finder, ts.locator, cache.NewCache(), time.Minute, 3000)
	ts.navigator = navigator.New(advisoryService, navigator.Options{
		SessionTTL:    time.Minute,
		LookupTimeout: time.Second,
		Classify:      ErrorKind,
	})

	h := NewHTTPHandlers(advisoryService, heatMapService, ts.navigator)
	ts.mux = http.NewServeMux()
	ts.mux.HandleFunc(MapPath, h.Map)
	ts.mux.HandleFunc(HeatMapPath, h.HeatMap)
	ts.mux.HandleFunc(AdvisoryPath, h.Advisory)
	ts.mux.HandleFunc(SessionsPath, h.Sessions)
	ts.mux.HandleFunc(SessionsPath+"/", h.Session)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.7:51234"
	req = req.WithContext(logging.EnsureLogger(t.Context()))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTP_Map(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, MapPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[mapview.Settings](t, rec)
	assert.Equal(t, mapview.TileURL, settings.TileURL)
	assert.Equal(t, mapview.DefaultIcons(), settings.Icons)

	rec = ts.do(t, http.MethodPost, MapPath, "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_Advisory(t *testing.T) {
	ts := newTestServer()
	ts.finder.On("FindAlongRoute", mock.Anything, mock.Anything).Return(batchOf(
		onRoute(77.6060, defect.High),
		onRoute(77.6070, defect.High),
	), nil)

	rec := ts.do(t, http.MethodPost, AdvisoryPath,
		`{"waypoints":[{"lat":12.9763,"lng":77.5929},{"lat":12.9756,"lng":77.6152}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "ProceedWithCaution", result["verdict"])
	assert.Equal(t, 2.0, result["total_count"])
	assert.Equal(t, map[string]interface{}{"high": 2.0, "medium": 0.0, "low": 0.0}, result["counts_by_severity"])
	assert.Equal(t, "Proceed with Caution", body["display"].(map[string]interface{})["label"])
	assert.Len(t, body["defects"], 2)
}

func TestHTTP_AdvisoryErrors(t *testing.T) {
	tests := []struct {
		name       string
		upstream   error
		body       string
		wantStatus int
		wantKind   string
	}{
		{"bad json", nil, `{"waypoints":`, http.StatusBadRequest, KindInvalidRequest},
		{"unknown field", nil, `{"route":"LINESTRING()"}`, http.StatusBadRequest, KindInvalidRequest},
		{"too few waypoints", nil, `{"waypoints":[{"lat":1,"lng":2}]}`, http.StatusBadRequest, KindInvalidRequest},
		{"query failed", fmt.Errorf("%w: route: connection refused", defects.ErrQueryFailed), "", http.StatusBadGateway, KindQueryFailed},
		{"malformed", fmt.Errorf("%w: route: not an array", defects.ErrMalformedResponse), "", http.StatusBadGateway, KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			if tt.upstream != nil {
				ts.finder.On("FindAlongRoute", mock.Anything, mock.Anything).Return(nil, tt.upstream)
			}
			body := tt.body
			if body == "" {
				body = `{"waypoints":[{"lat":12.9763,"lng":77.5929},{"lat":12.9756,"lng":77.6152}]}`
			}

			rec := ts.do(t, http.MethodPost, AdvisoryPath, body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHTTP_HeatMap(t *testing.T) {
	ts := newTestServer()
	ts.locator.On("Locate", mock.Anything, "198.51.100.4").Return(cubbonPark, nil)
	ts.finder.On("FindNearby", mock.Anything, cubbonPark, 3000.0).Return(batchOf(onRoute(77.6060, defect.Medium)), nil)
	ts.finder.On("FindNearby", mock.Anything, mgRoadMid, 500.0).Return(batchOf(), nil)

	// Geolocated through the forwarded client address
	req := httptest.NewRequest(http.MethodGet, HeatMapPath, nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.2")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	heatMap := decode[HeatMap](t, rec)
	assert.Equal(t, cubbonPark, heatMap.Center)
	require.Len(t, heatMap.Points, 1)
	assert.Equal(t, 0.6, heatMap.Points[0].Weight)

	rec = ts.do(t, http.MethodGet, HeatMapPath+"?lat=12.9756&lng=77.6050&radius=500", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mgRoadMid, decode[HeatMap](t, rec).Center)

	rec = ts.do(t, http.MethodGet, HeatMapPath+"?lat=12.9756", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, HeatMapPath+"?lat=12.9756&lng=77.6050&radius=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_HeatMapLocationUnavailable(t *testing.T) {
	ts := newTestServer()
	ts.locator.On("Locate", mock.Anything, "203.0.113.7").Return(geo.Point{}, ipgeo.ErrLocationUnavailable)

	rec := ts.do(t, http.MethodGet, HeatMapPath, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, KindLocationUnavailable, decode[errorResponse](t, rec).Kind)
}

func TestHTTP_NavigatorFlow(t *testing.T) {
	ts := newTestServer()
	ts.router.On("Route", mock.Anything, []geo.Point{cubbonPark, mgRoadEast}).Return(testRoute, nil)
	ts.finder.On("FindAlongRoute", mock.Anything, mock.Anything).Return(batchOf(
		onRoute(77.6060, defect.High),
		onRoute(77.6070, defect.High),
		onRoute(77.6080, defect.High),
		onRoute(77.6090, defect.High),
	), nil)

	rec := ts.do(t, http.MethodPost, SessionsPath, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[navigator.State](t, rec)
	assert.Equal(t, navigator.AwaitingStart, created.Phase)
	base := SessionsPath + "/" + created.ID

	rec = ts.do(t, http.MethodGet, base+"/route.kml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no route yet")

	rec = ts.do(t, http.MethodPost, base+"/clicks", `{"lat":12.9763,"lng":77.5929}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, navigator.AwaitingEnd, decode[navigator.State](t, rec).Phase)

	rec = ts.do(t, http.MethodPost, base+"/clicks", `{"lat":12.9756,"lng":77.6152}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ts.navigator.Wait()

	rec = ts.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[navigator.State](t, rec)
	assert.Equal(t, navigator.Ready, state.Phase)
	require.NotNil(t, state.Report)
	assert.Equal(t, advisory.NotAdvisable, state.Report.Result.Verdict)
	assert.Equal(t, 4, state.Report.Result.TotalCount)

	rec = ts.do(t, http.MethodGet, base+"/route.kml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Not Advisable")

	rec = ts.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, KindNotFound, decode[errorResponse](t, rec).Kind)
}

func TestHTTP_NavigatorFailureKeepsReport(t *testing.T) {
	ts := newTestServer()
	ts.router.On("Route", mock.Anything, mock.Anything).Return(testRoute, nil)
	ts.finder.On("FindAlongRoute", mock.Anything, mock.Anything).Return(batchOf(onRoute(77.6060, defect.High)), nil).Once()
	ts.finder.On("FindAlongRoute", mock.Anything, mock.Anything).Return(nil,
		errors.Join(defects.ErrQueryFailed, context.DeadlineExceeded)).Once()

	id := ts.navigator.Create(logging.EnsureLogger(t.Context())).ID
	base := SessionsPath + "/" + id

	ts.do(t, http.MethodPost, base+"/clicks", `{"lat":12.9763,"lng":77.5929}`)
	ts.do(t, http.MethodPost, base+"/clicks", `{"lat":12.9756,"lng":77.6152}`)
	ts.navigator.Wait()

	rec := ts.do(t, http.MethodPost, base+"/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.navigator.Wait()

	state := decode[navigator.State](t, ts.do(t, http.MethodGet, base, ""))
	assert.Equal(t, navigator.Failed, state.Phase)
	assert.Equal(t, KindQueryFailed, state.ErrorKind)
	require.NotNil(t, state.Report, "previous result stays visible")
	assert.Equal(t, 1, state.Report.Result.TotalCount)
}

func TestHTTP_NavigatorBadInput(t *testing.T) {
	ts := newTestServer()
	id := ts.navigator.Create(logging.EnsureLogger(t.Context())).ID
	base := SessionsPath + "/" + id

	rec := ts.do(t, http.MethodPost, base+"/clicks", `{"lat":12.9763}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/clicks", `{"lat":120,"lng":77.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, SessionsPath+"/unknown/clicks", `{"lat":1,"lng":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, SessionsPath, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.4 ,10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))
}
