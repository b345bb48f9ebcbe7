package repo

import (
	"context"
	"testing"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

func TestMessagesStats_EmptyAndPopulated(t *testing.T) {
	db := newMsgRepoDB(t)
	convID := seedConversation(t, db)
	ctx := context.Background()

	count, maxTS, err := MessagesStats(ctx, db, convID)
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty stats: count=%d ts=%v err=%v", count, maxTS, err)
	}

	_, _ = CreateMessage(db, convID, "u1", "a")
	_, _ = CreateMessage(db, convID, "u1", "b")

	count, maxTS, err = MessagesStats(ctx, db, convID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if count != 2 || maxTS == nil || maxTS.IsZero() {
		t.Fatalf("populated stats: count=%d ts=%v", count, maxTS)
	}
}

func TestNotificationsStats_OnlyUnreadRows(t *testing.T) {
	db := newConvRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	count, maxTS, err := NotificationsStats(ctx, db, "u1")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty stats: count=%d ts=%v err=%v", count, maxTS, err)
	}

	n, _ := CreateNotification(ctx, db, "u1", "deadline", "Deadline Near")
	_, _ = CreateNotification(ctx, db, "u1", "status_changed", "Status Changed")
	_ = MarkNotificationRead(ctx, db, n.ID, "u1")

	count, maxTS, err = NotificationsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if count != 1 || maxTS == nil {
		t.Fatalf("expected 1 unread with timestamp, got count=%d ts=%v", count, maxTS)
	}
}
