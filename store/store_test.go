package store

import (
	"context"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext puts the mock at the transaction key so conn() returns it.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey{}, mock)
}

func TestNewID(t *testing.T) {
	id := NewMessageID()
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("expected msg_ prefix, got %s", id)
	}
	if len(id) != len("msg_")+idLength {
		t.Errorf("unexpected id length: %d", len(id))
	}

	other := NewMessageID()
	if id == other {
		t.Error("expected distinct ids")
	}
}
