package assignment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"estatecrm/internal/notifications"
	"estatecrm/internal/types"
)

// LeadRow is one parsed row from a bulk upload file.
type LeadRow struct {
	Name      string
	Phone     string
	ManagerID string
}

// FileSource reads lead rows out of an uploaded file reference.
type FileSource interface {
	ReadLeads(ctx context.Context, fileRef string) ([]LeadRow, error)
}

// UploadStore is the bulk upload repository subset the ingester needs.
type UploadStore interface {
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	Complete(ctx context.Context, u *types.BulkUpload, now time.Time) error
}

// LeadWriter is the lead repository subset the ingester writes through.
type LeadWriter interface {
	InsertLeads(ctx context.Context, leads []*types.Lead) error
	ExistingPhones(ctx context.Context, phones []string) (map[string]bool, error)
}

// Ingester processes bulk lead upload jobs: claim the upload record, parse
// the file, classify every row, insert the valid leads, and record final
// counters.
type Ingester struct {
	uploads  UploadStore
	leads    LeadWriter
	source   FileSource
	notifier Notifier
	clock    types.Clock
	logger   types.Logger
}

// NewIngester creates an Ingester.
func NewIngester(uploads UploadStore, leads LeadWriter, source FileSource, notifier Notifier, clock types.Clock, logger types.Logger) *Ingester {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Ingester{
		uploads:  uploads,
		leads:    leads,
		source:   source,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Process runs one bulk upload job. A failed Claim means another worker
// already took the upload (or a completed one was replayed) and the job
// ends quietly. Row-level problems are classified, counted, and recorded on
// the upload record; only infrastructure failures bubble up for retry.
func (g *Ingester) Process(ctx context.Context, payload types.BulkUploadPayload) error {
	logger := g.logger.With("upload_id", payload.UploadID)

	claimed, err := g.uploads.Claim(ctx, payload.UploadID, g.clock.Now())
	if err != nil {
		return err
	}
	if !claimed {
		logger.Warn("bulk upload not claimable, skipping")
		return nil
	}

	rows, err := g.source.ReadLeads(ctx, payload.FileRef)
	if err != nil {
		return err
	}

	result := &types.BulkUpload{ID: payload.UploadID}
	now := g.clock.Now()

	// Phones already in the system count as duplicates; so do repeats
	// within the file itself.
	phones := make([]string, 0, len(rows))
	for _, row := range rows {
		if p := normalizePhone(row.Phone); p != "" {
			phones = append(phones, p)
		}
	}
	existing := map[string]bool{}
	if len(phones) > 0 {
		existing, err = g.leads.ExistingPhones(ctx, phones)
		if err != nil {
			return err
		}
	}

	var inserts []*types.Lead
	seenInFile := make(map[string]bool)
	for i, row := range rows {
		rowNum := i + 1
		phone := normalizePhone(row.Phone)

		switch {
		case phone == "" || !validPhone(phone):
			result.InvalidPhones++
			result.Details = append(result.Details, types.UploadErrorDetail{
				Row: rowNum, Phone: row.Phone, Reason: "invalid phone number",
			})
		case existing[phone] || seenInFile[phone]:
			result.Duplicates++
			result.Details = append(result.Details, types.UploadErrorDetail{
				Row: rowNum, Phone: phone, Reason: "duplicate phone number",
			})
		case row.Name == "":
			result.OtherErrors++
			result.Details = append(result.Details, types.UploadErrorDetail{
				Row: rowNum, Phone: phone, Reason: "missing lead name",
			})
		default:
			seenInFile[phone] = true
			inserts = append(inserts, &types.Lead{
				ID:         "lead_" + uuid.NewString(),
				Name:       row.Name,
				Phone:      phone,
				Status:     types.LeadStatusNew,
				UploadedBy: payload.UploadedBy,
				ManagerID:  row.ManagerID,
				CreatedAt:  now,
			})
		}
	}

	if len(inserts) > 0 {
		if err := g.leads.InsertLeads(ctx, inserts); err != nil {
			return err
		}
	}
	result.Uploaded = len(inserts)

	if err := g.uploads.Complete(ctx, result, g.clock.Now()); err != nil {
		return err
	}

	_, err = g.notifier.Create(ctx, notifications.CreateInput{
		RecipientID: payload.UploadedBy,
		Type:        types.TypeLeadUploaded,
		Title:       "Lead upload finished",
		Message: fmt.Sprintf("%d leads uploaded (%d duplicates, %d invalid phones, %d errors).",
			result.Uploaded, result.Duplicates, result.InvalidPhones, result.OtherErrors),
		Metadata: types.Metadata{"uploadId": payload.UploadID},
	})
	if err != nil {
		logger.Error("failed to notify uploader", "error", err.Error())
	}

	logger.Info("bulk upload finished",
		"uploaded", result.Uploaded,
		"duplicates", result.Duplicates,
		"invalid_phones", result.InvalidPhones,
		"other_errors", result.OtherErrors,
	)
	return nil
}

// normalizePhone strips spaces, dashes, and parentheses.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// validPhone accepts an optional leading + followed by 7 to 15 digits.
func validPhone(phone string) bool {
	digits := phone
	if strings.HasPrefix(digits, "+") {
		digits = digits[1:]
	}
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// CSVSource reads lead rows from a local CSV file whose columns are
// name, phone, and optionally manager id. A header row is skipped when the
// phone column is not numeric.
type CSVSource struct{}

// ReadLeads implements FileSource.
func (CSVSource) ReadLeads(_ context.Context, fileRef string) ([]LeadRow, error) {
	f, err := os.Open(fileRef)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to open upload file", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows []LeadRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationBadPayload, "failed to parse upload file", err)
		}
		if len(record) < 2 {
			rows = append(rows, LeadRow{})
			continue
		}
		row := LeadRow{
			Name:  strings.TrimSpace(record[0]),
			Phone: strings.TrimSpace(record[1]),
		}
		if len(record) > 2 {
			row.ManagerID = strings.TrimSpace(record[2])
		}
		if len(rows) == 0 && !validPhone(normalizePhone(row.Phone)) && strings.EqualFold(row.Name, "name") {
			// Header row.
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var _ FileSource = CSVSource{}
