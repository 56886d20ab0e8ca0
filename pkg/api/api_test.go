package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/mock"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/senssun"
)

func newTestAPI(t *testing.T, tr *mock.Transport) (*API, *senssun.Manager) {
	t.Helper()

	m, err := senssun.New("AA:BB:CC:DD:EE:FF", senssun.WithTransport(tr))
	if err != nil {
		t.Fatalf("failed to instantiate manager: %s", err)
	}
	t.Cleanup(m.Teardown)

	return New(m), m
}

func doRequest(t *testing.T, api *API, method, path string, expectedCode int, res interface{}) {
	t.Helper()

	resp, err := api.App().Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("failed to perform request %s %s: %s", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedCode {
		t.Fatalf("unexpected status code for %s %s: want %d, have %d", method, path, expectedCode, resp.StatusCode)
	}
	if res != nil {
		if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
			t.Fatalf("failed to decode response: %s", err)
		}
	}
}

func TestWeight(t *testing.T) {
	tr := mock.New()
	api, m := newTestAPI(t, tr)

	doRequest(t, api, http.MethodGet, "/weight", http.StatusNotFound, nil)

	var status StatusResponse
	doRequest(t, api, http.MethodPost, "/connect", http.StatusOK, &status)
	if status.State != "connected" || !status.Available || status.UniqueID != "ble_scale_AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected status after connect: %+v", status)
	}

	m.HandleNotification(mock.Payload(724, true))

	var weight WeightResponse
	doRequest(t, api, http.MethodGet, "/weight", http.StatusOK, &weight)
	if weight.Grams != 72400 || weight.Kilograms.String() != "72.4" || weight.Unit != "g" || !weight.Available {
		t.Fatalf("unexpected weight response: %+v", weight)
	}

	doRequest(t, api, http.MethodPost, "/disconnect", http.StatusOK, &status)
	if status.State != "disconnected" || status.Available {
		t.Fatalf("unexpected status after disconnect: %+v", status)
	}
	if tr.Disconnects() != 1 {
		t.Fatalf("unexpected number of disconnects: %d", tr.Disconnects())
	}
}

func TestConnectFailure(t *testing.T) {
	tr := mock.New()
	tr.FailNext(1, nil)
	api, _ := newTestAPI(t, tr)

	doRequest(t, api, http.MethodPost, "/connect", http.StatusServiceUnavailable, nil)

	var status StatusResponse
	doRequest(t, api, http.MethodGet, "/status", http.StatusOK, &status)
	if status.State != "awaiting_retry" || status.Available || status.Error == "" {
		t.Fatalf("unexpected status after failed connect: %+v", status)
	}
}
