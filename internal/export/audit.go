// Package export renders the booking audit trail into Excel workbooks.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"liftbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	historySheet  = "History"
)

var bookingHeaders = []interface{}{
	"Booking ID", "Customer", "Service", "Status", "Preferred date", "Window",
	"Pickup", "Dropoff", "Distance km", "Estimate", "Deposit", "Deposit paid",
	"Final price", "Driver", "Vehicle", "Created at", "Completed at", "Cancelled at",
}

var historyHeaders = []interface{}{
	"Booking ID", "From", "To", "Actor", "Role", "Note", "At",
}

// Source supplies the rows of the report.
type Source interface {
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetHistory(ctx context.Context, bookingID string) ([]*models.StatusHistoryEntry, error)
}

type AuditExporter struct {
	src    Source
	dir    string
	logger *zerolog.Logger
}

func NewAuditExporter(src Source, dir string, logger *zerolog.Logger) *AuditExporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AuditExporter{src: src, dir: dir, logger: logger}
}

// AuditWorkbook builds a workbook with one sheet of bookings whose preferred
// date is in [start, end] and one sheet with their full status history.
func (e *AuditExporter) AuditWorkbook(ctx context.Context, start, end time.Time) (*excelize.File, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	bookings, err := e.src.GetBookingsByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", bookingsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	if err := writeRow(f, bookingsSheet, 1, bookingHeaders); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRow(f, historySheet, 1, historyHeaders); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(bookingsSheet, "A1", lastCell(len(bookingHeaders), 1), headerStyle)
	_ = f.SetCellStyle(historySheet, "A1", lastCell(len(historyHeaders), 1), headerStyle)

	historyRow := 2
	for i, b := range bookings {
		if err := writeRow(f, bookingsSheet, i+2, bookingRow(b)); err != nil {
			f.Close()
			return nil, err
		}

		entries, err := e.src.GetHistory(ctx, b.ID)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("error getting history for %s: %w", b.ID, err)
		}
		for _, h := range entries {
			if err := writeRow(f, historySheet, historyRow, historyRowValues(h)); err != nil {
				f.Close()
				return nil, err
			}
			historyRow++
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "A", 38)
	_ = f.SetColWidth(bookingsSheet, "B", "R", 18)
	_ = f.SetColWidth(historySheet, "A", "A", 38)
	_ = f.SetColWidth(historySheet, "B", "G", 18)
	_ = f.SetPanes(bookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f, nil
}

// Write streams the audit workbook to w.
func (e *AuditExporter) Write(ctx context.Context, w io.Writer, start, end time.Time) error {
	f, err := e.AuditWorkbook(ctx, start, end)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// SaveFile stores the workbook under the export directory and returns its path.
func (e *AuditExporter) SaveFile(ctx context.Context, start, end time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.AuditWorkbook(ctx, start, end)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.dir, FileName(start, end))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("audit workbook created")
	return filePath, nil
}

// FileName is the conventional name of an audit workbook for a period.
func FileName(start, end time.Time) string {
	return fmt.Sprintf("audit_%s_to_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func lastCell(cols, row int) string {
	cell, _ := excelize.CoordinatesToCellName(cols, row)
	return cell
}

func bookingRow(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.CustomerID,
		string(b.ServiceType),
		b.Status.Label(),
		b.PreferredDate.Format("2006-01-02"),
		string(b.PreferredTimeWindow),
		b.PickupAddress,
		b.DropoffAddress,
		b.DistanceKm,
		money(b.TotalEstimate),
		money(b.DepositAmount),
		b.DepositPaid,
		optMoney(b.FinalPrice),
		optString(b.DriverID),
		optString(b.VehicleID),
		b.CreatedAt.Format("2006-01-02 15:04"),
		optTime(b.CompletedAt),
		optTime(b.CancelledAt),
	}
}

func historyRowValues(h *models.StatusHistoryEntry) []interface{} {
	from := ""
	if h.OldStatus != nil {
		from = h.OldStatus.Label()
	}
	actor := "system"
	if h.ActorID != nil {
		actor = *h.ActorID
	}
	return []interface{}{
		h.BookingID,
		from,
		h.NewStatus.Label(),
		actor,
		string(h.ActorRole),
		h.Note,
		h.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func money(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

func optMoney(cents *int64) interface{} {
	if cents == nil {
		return ""
	}
	return money(*cents)
}

func optString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
