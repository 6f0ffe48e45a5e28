package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liftbook/internal/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(ctx context.Context) (*http.ServeMux, *httptest.Server, *SheetsService) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	srv, _ := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	return mux, server, newSheetsService(srv, "bookings_tid", "Bookings")
}

func testBooking(id string) *models.Booking {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:                  id,
		CustomerID:          "cust-1",
		ServiceType:         models.ServiceCrane,
		Status:              models.StatusPending,
		PreferredDate:       now.AddDate(0, 0, 3),
		PreferredTimeWindow: models.WindowMorning,
		TotalEstimate:       44250,
		DepositAmount:       8850,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestSheetsService_TestConnection(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	if err := s.TestConnection(ctx); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestSheetsService_WarmUpCache(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}, {"b-1"}, {}, {"b-3"}}})
	})
	if err := s.WarmUpCache(ctx); err != nil {
		t.Fatalf("WarmUpCache failed: %v", err)
	}
	if row, ok := s.getCachedRow("b-1"); !ok || row != 2 {
		t.Errorf("expected b-1 at row 2, got %d (ok=%v)", row, ok)
	}
	if row, ok := s.getCachedRow("b-3"); !ok || row != 4 {
		t.Errorf("expected b-3 at row 4, got %d (ok=%v)", row, ok)
	}
	if _, ok := s.getCachedRow("ID"); ok {
		t.Error("header must not be cached")
	}
}

func TestSheetsService_UpsertBooking_Append(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Bookings!A10:Q10"},
		})
	})
	if err := s.UpsertBooking(ctx, testBooking("b-new")); err != nil {
		t.Fatalf("UpsertBooking failed: %v", err)
	}
	if row, _ := s.getCachedRow("b-new"); row != 10 {
		t.Errorf("expected cached row 10, got %d", row)
	}
}

func TestSheetsService_UpsertBooking_Update(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	s.setCachedRow("b-1", 2)

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A2:Q2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	if err := s.UpsertBooking(ctx, testBooking("b-1")); err != nil {
		t.Fatalf("UpsertBooking failed: %v", err)
	}
	if len(got.Values) != 1 || len(got.Values[0]) != len(bookingHeaders) {
		t.Fatalf("unexpected row payload: %+v", got.Values)
	}
	if got.Values[0][9] != "442.50" {
		t.Errorf("expected estimate 442.50, got %v", got.Values[0][9])
	}
}

func TestSheetsService_UpsertBooking_Nil(t *testing.T) {
	s := &SheetsService{rowCache: map[string]int{}}
	if err := s.UpsertBooking(context.Background(), nil); err == nil {
		t.Error("expected error for nil booking")
	}
}

func TestSheetsService_ReplaceBookings(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:Q:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	err := s.ReplaceBookings(ctx, []*models.Booking{testBooking("b-1"), testBooking("b-2")})
	if err != nil {
		t.Fatalf("ReplaceBookings failed: %v", err)
	}
	if row, _ := s.getCachedRow("b-2"); row != 3 {
		t.Errorf("expected b-2 at row 3, got %d", row)
	}
}

func TestRowFromRange(t *testing.T) {
	cases := map[string]int{
		"Bookings!A10:Q10": 10,
		"'My Tab'!A7:Q7":   7,
		"no-row-info":      0,
	}
	for in, want := range cases {
		if got := rowFromRange(in); got != want {
			t.Errorf("rowFromRange(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestBookingRowValues_FinalPriceAndAssignment(t *testing.T) {
	b := testBooking("b-9")
	final := int64(47000)
	driver, vehicle := "drv-1", "veh-1"
	b.FinalPrice = &final
	b.DriverID = &driver
	b.VehicleID = &vehicle

	row := bookingRowValues(b)
	if row[12] != "470.00" {
		t.Errorf("expected final price 470.00, got %v", row[12])
	}
	if row[13] != "drv-1" || row[14] != "veh-1" {
		t.Errorf("unexpected assignment cells: %v %v", row[13], row[14])
	}
}
