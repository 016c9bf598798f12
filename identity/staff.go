package identity

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"forum-mirror/models"
)

// StaffStore is the slice of the store the importer needs.
type StaffStore interface {
	UpsertStaffRole(ctx context.Context, role models.StaffRole) error
}

// ImportStaffCSV bootstraps staff roles from a two-column CSV of
// `user_id,tag` with no header. Whitespace is trimmed, empty rows are
// skipped, and re-imports overwrite the tag keyed by hashed ID.
func ImportStaffCSV(ctx context.Context, path string, h *Hasher, store StaffStore, log *zap.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening staff csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	imported := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("reading staff csv: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		idStr := strings.TrimSpace(rec[0])
		tag := strings.TrimSpace(rec[1])
		if idStr == "" || tag == "" {
			continue
		}
		userID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			log.Warn("skipping staff csv row with bad user id", zap.String("value", idStr))
			continue
		}
		role := models.StaffRole{
			UserIDHash: h.Alias(userID),
			PublicTag:  tag,
			AddedBy:    "csv-import",
			AddedAt:    time.Now().UTC(),
		}
		if err := store.UpsertStaffRole(ctx, role); err != nil {
			return imported, fmt.Errorf("importing staff role: %w", err)
		}
		imported++
	}
	log.Info("staff csv imported", zap.Int("roles", imported), zap.String("path", path))
	return imported, nil
}
