package postgres

import (
	"database/sql"
	"errors"
	"testing"
)

func TestWithRollback(t *testing.T) {
	cause := errors.New("insert order: boom")
	connLost := errors.New("conn closed")

	tests := []struct {
		name       string
		rollback   error
		wantJoined error
	}{
		{name: "clean rollback keeps cause"},
		{name: "already finished tx", rollback: sql.ErrTxDone},
		{name: "failed rollback is joined", rollback: connLost, wantJoined: connLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := withRollback(cause, func() error {
				called = true
				return tt.rollback
			})

			if !called {
				t.Fatal("rollback was not called")
			}
			if !errors.Is(err, cause) {
				t.Fatalf("cause lost: %v", err)
			}
			if tt.wantJoined == nil {
				if err != cause {
					t.Fatalf("expected cause unchanged, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantJoined) {
				t.Fatalf("rollback error not joined: %v", err)
			}
		})
	}
}
