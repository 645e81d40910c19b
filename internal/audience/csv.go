package audience

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/zlammie/keepup-mailer/internal/domain"
)

const defaultMaxImportRows = 5000

// recipientNamespace derives stable ids for rows imported without an Id column.
var recipientNamespace = uuid.MustParse("5b0b7a38-4c39-4f43-9a7c-8f0d2f3f6e11")

// ImportRow is a single recipient read from a CSV upload. Email comes from
// the "Email" column; other known columns are matched case-insensitively.
type ImportRow struct {
	Email  string
	Fields map[string]string
}

// ParseImportRows reads a CSV with a header row containing an Email column.
// Rows with the wrong column count or an empty email are skipped.
func ParseImportRows(r io.Reader, maxRows int) ([]ImportRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read csv header: %v", domain.ErrValidation, err)
	}

	emailIdx := -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		normalized[i] = h
		if h == "email" {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, fmt.Errorf("%w: csv must contain an Email column", domain.ErrValidation)
	}

	if maxRows <= 0 {
		maxRows = defaultMaxImportRows
	}

	rows := make([]ImportRow, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		fields := make(map[string]string, len(headers)-1)
		for i := range record {
			if i == emailIdx || normalized[i] == "" {
				continue
			}
			fields[normalized[i]] = strings.TrimSpace(record[i])
		}

		rows = append(rows, ImportRow{Email: email, Fields: fields})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: csv must contain at least one data row", domain.ErrValidation)
	}

	return rows, nil
}

// ToRecipients maps import rows onto recipient records for one company.
func ToRecipients(companyID string, kind domain.RecipientKind, rows []ImportRow) []*domain.Recipient {
	out := make([]*domain.Recipient, 0, len(rows))
	for _, row := range rows {
		email := domain.NormalizeEmail(row.Email)
		id := row.Fields["id"]
		if id == "" {
			id = uuid.NewSHA1(recipientNamespace, []byte(companyID+"/"+string(kind)+"/"+email)).String()
		}

		rec := &domain.Recipient{
			ID:         id,
			CompanyID:  companyID,
			Kind:       kind,
			Email:      email,
			FirstName:  row.Fields["firstname"],
			LastName:   row.Fields["lastname"],
			Status:     row.Fields["status"],
			DoNotEmail: isTruthy(row.Fields["donotemail"]),
		}
		if realtor := row.Fields["realtorid"]; realtor != "" && kind == domain.RecipientContact {
			rec.RealtorID = &realtor
		}
		if communities := row.Fields["communities"]; communities != "" {
			for _, c := range strings.Split(communities, ";") {
				if c = strings.TrimSpace(c); c != "" {
					rec.CommunityIDs = append(rec.CommunityIDs, c)
				}
			}
		}
		out = append(out, rec)
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
