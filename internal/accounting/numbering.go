package accounting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// journalPrefix is the document-number prefix for journal entries.
const journalPrefix = "JRN"

// maxPostAttempts bounds number-collision retries. The tail row lock makes
// collisions rare; retries only absorb a race with a transaction that
// committed between our lock and our insert.
const maxPostAttempts = 5

// numberPrefix builds the date-scoped prefix, optionally scoped per branch
// so concurrent branches keep independent sequences. The branch always
// comes from the explicit actor, never from ambient state.
func numberPrefix(actor shared.Actor, date time.Time) string {
	if actor.BranchID > 0 {
		return fmt.Sprintf("%s-B%d-%s", journalPrefix, actor.BranchID, date.Format("20060102"))
	}
	return fmt.Sprintf("%s-%s", journalPrefix, date.Format("20060102"))
}

// nextNumber derives PREFIX-YYYYMMDD-SEQ under an exclusive lock on the
// current maximum for the prefix. Callers must run inside a transaction;
// a duplicate slipping in between lock and insert surfaces as a unique
// violation which the posting loop retries.
func nextNumber(ctx context.Context, tx TxRepository, actor shared.Actor, date time.Time) (string, error) {
	prefix := numberPrefix(actor, date)
	last, err := tx.LockNumberTail(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("accounting: lock number tail %s: %w", prefix, err)
	}
	seq := 1
	if last != "" {
		parts := strings.Split(last, "-")
		n, convErr := strconv.Atoi(parts[len(parts)-1])
		if convErr != nil {
			return "", fmt.Errorf("accounting: malformed journal number %q", last)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s-%04d", prefix, seq), nil
}
