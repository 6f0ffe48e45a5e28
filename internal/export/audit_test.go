package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"liftbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	bookings []*models.Booking
	history  map[string][]*models.StatusHistoryEntry
	err      error
}

func (f *fakeSource) GetBookingsByDateRange(_ context.Context, _, _ time.Time) ([]*models.Booking, error) {
	return f.bookings, f.err
}

func (f *fakeSource) GetHistory(_ context.Context, id string) ([]*models.StatusHistoryEntry, error) {
	return f.history[id], nil
}

func sampleSource() *fakeSource {
	at := time.Date(2026, 11, 1, 9, 30, 0, 0, time.UTC)
	pending := models.StatusPending
	actor := "cust-1"
	final := int64(47000)
	return &fakeSource{
		bookings: []*models.Booking{{
			ID:                  "b-1",
			CustomerID:          "cust-1",
			ServiceType:         models.ServiceCrane,
			Status:              models.StatusCancelled,
			PreferredDate:       at.AddDate(0, 0, 2),
			PreferredTimeWindow: models.WindowMorning,
			TotalEstimate:       44250,
			DepositAmount:       8850,
			FinalPrice:          &final,
			CreatedAt:           at,
		}},
		history: map[string][]*models.StatusHistoryEntry{
			"b-1": {
				{BookingID: "b-1", NewStatus: models.StatusPending, ActorID: &actor, ActorRole: models.RoleCustomer, CreatedAt: at},
				{BookingID: "b-1", OldStatus: &pending, NewStatus: models.StatusCancelled, ActorRole: models.RoleSystem, Note: "expired", CreatedAt: at.Add(time.Hour)},
			},
		},
	}
}

func TestAuditWorkbook(t *testing.T) {
	e := NewAuditExporter(sampleSource(), t.TempDir(), nil)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, start, start.AddDate(0, 0, 7)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Booking ID", rows[0][0])
	assert.Equal(t, "b-1", rows[1][0])
	assert.Equal(t, "Cancelled", rows[1][3])
	assert.Equal(t, "442.5", rows[1][9])
	assert.Equal(t, "470", rows[1][12])

	history, err := f.GetRows(historySheet)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "", history[1][1])
	assert.Equal(t, "cust-1", history[1][3])
	assert.Equal(t, "Pending", history[2][1])
	assert.Equal(t, "system", history[2][3])
	assert.Equal(t, "expired", history[2][5])
}

func TestAuditWorkbook_Errors(t *testing.T) {
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	e := NewAuditExporter(&fakeSource{}, "", nil)
	_, err := e.AuditWorkbook(context.Background(), start, start.AddDate(0, 0, -1))
	assert.Error(t, err)

	boom := errors.New("db down")
	e = NewAuditExporter(&fakeSource{err: boom}, "", nil)
	_, err = e.AuditWorkbook(context.Background(), start, start)
	assert.ErrorIs(t, err, boom)
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	e := NewAuditExporter(sampleSource(), dir, nil)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	path, err := e.SaveFile(context.Background(), start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Contains(t, path, "audit_2026-11-01_to_2026-11-08.xlsx")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
