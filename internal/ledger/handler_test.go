package ledger

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/sitestock/internal/shared"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(logger, NewService(&memoryRepo{}, nil, nil, nil), nil, nil, nil, nil)
}

func TestRespondErrorStatusMapping(t *testing.T) {
	h := newTestHandler()

	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"invalid quantity", ErrInvalidQuantity, 400, "quantity"},
		{"insufficient stock", &InsufficientStockError{Available: dec("3")}, 409, "available 3.000"},
		{"not linked", shared.ErrNotLinked, 400, "not linked"},
		{"idempotency replay", shared.ErrIdempotencyConflict, 409, "already processed"},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, 409, "retry"},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, 409, "retry"},
		{"unknown", errors.New("boom"), 500, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.respondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			if tc.detail != "" {
				require.True(t, strings.Contains(rec.Body.String(), tc.detail),
					"body %q should mention %q", rec.Body.String(), tc.detail)
			}
		})
	}
}
