package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
)

func checkServer(t *testing.T, body string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "", 5*time.Second)
}

func TestVerdictFieldVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"isValid true", `{"isValid": true}`, true},
		{"isCompliant false", `{"isCompliant": false}`, false},
		{"isSafe true", `{"isSafe": true, "recommendations": ["monitor QT interval"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := checkServer(t, tt.body)
			res, err := a.CheckInteractions(context.Background(), checks.BatteryInput{})
			if err != nil {
				t.Fatalf("CheckInteractions failed: %v", err)
			}
			if res.Valid != tt.want {
				t.Errorf("Valid = %v, want %v", res.Valid, tt.want)
			}
		})
	}
}

func TestMissingVerdictIsAnError(t *testing.T) {
	a := checkServer(t, `{"recommendations": ["reduce dose"]}`)
	res, err := a.CheckDosage(context.Background(), checks.BatteryInput{})
	if err == nil {
		t.Fatalf("expected an error for a verdict-less body, got %+v", res)
	}
}

func TestNonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := New(srv.URL, "", 5*time.Second)
	if _, err := a.CheckAllergies(context.Background(), checks.BatteryInput{}); err == nil {
		t.Error("expected an error for status 502")
	}
}
