package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if payload["status"] != StatusOK {
		t.Errorf("Expected status %q, got %v", StatusOK, payload["status"])
	}
}

func TestHealthChecker_Check_DatabaseHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	report := NewHealthChecker(db, nil).Check(context.Background())

	if report.Status != StatusOK {
		t.Errorf("Expected %q, got %q", StatusOK, report.Status)
	}
	if dep, ok := report.Dependencies["database"]; !ok || dep.Status != StatusOK {
		t.Errorf("Expected healthy database probe, got %+v", report.Dependencies)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestHealthChecker_Readiness_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	mock.ExpectPing()
	db.Close()

	rec := httptest.NewRecorder()
	NewHealthChecker(db, nil).Readiness(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 with the database down, got %d", rec.Code)
	}
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Status != StatusDown {
		t.Errorf("Expected %q, got %q", StatusDown, report.Status)
	}
	if report.Dependencies["database"].Message == "" {
		t.Error("Expected the database failure message in the report")
	}
}

func TestHealthChecker_Check_RedisDownDegrades(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	report := NewHealthChecker(db, client).Check(context.Background())

	// A lost cache degrades the service but never takes it down.
	if report.Status != StatusDegraded {
		t.Errorf("Expected %q with Redis down, got %q", StatusDegraded, report.Status)
	}
	if report.Dependencies["redis"].Status != StatusDown {
		t.Errorf("Expected the redis probe down, got %+v", report.Dependencies["redis"])
	}
}

func TestHealthChecker_Check_RedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	report := NewHealthChecker(nil, client).Check(context.Background())

	if report.Status != StatusOK {
		t.Errorf("Expected %q, got %q", StatusOK, report.Status)
	}
	if _, ok := report.Dependencies["database"]; ok {
		t.Error("Expected no database probe without a database")
	}
}
