package notify

import (
	"context"
	"errors"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/discussionblog/offline-agent/internal/lifecycle"
)

func TestSyncHandlerRunsKnownTag(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := NewSyncHandler(logger, nil)

	handled, err := h.Handle(context.Background(), TagSyncPosts)
	if err != nil || !handled {
		t.Fatalf("sync-posts should resolve, handled=%v err=%v", handled, err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Message != "sync_complete" {
		t.Fatalf("expected sync_complete log")
	}
}

func TestSyncHandlerIgnoresUnknownTag(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	h := NewSyncHandler(logger, []string{TagSyncPosts})

	handled, err := h.Handle(context.Background(), "sync-comments")
	if err != nil || handled {
		t.Fatalf("unknown tag should be ignored, handled=%v err=%v", handled, err)
	}
}

func TestPushShowsFixedNotification(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	center := NewCenter(Template{}, lifecycle.NewClients(), logger)

	n, err := center.HandlePush(context.Background(), []byte(`{"anything":true}`))
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if n.Title != "New Content Available" || n.Body != "Check out the latest posts on the blog!" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.Icon != "/favicon" || n.Badge != "/favicon" {
		t.Fatalf("icon and badge should be /favicon, got %+v", n)
	}
	if len(center.List()) != 1 {
		t.Fatalf("notification should be listed")
	}
}

func TestClickClosesNotificationAndOpensHome(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	clients := lifecycle.NewClients()
	center := NewCenter(Template{}, clients, logger)
	n, _ := center.HandlePush(context.Background(), nil)

	client, err := center.HandleClick(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if client.URL != "/" || !client.Focused {
		t.Fatalf("expected focused home page, got %+v", client)
	}
	if len(center.List()) != 0 {
		t.Fatalf("notification should be closed")
	}
	if _, err := center.HandleClick(context.Background(), n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("second click should fail, got %v", err)
	}
}

type failingOpener struct{}

func (failingOpener) OpenWindow(ctx context.Context, url string) (lifecycle.Client, error) {
	return lifecycle.Client{}, errors.New("no window")
}

func TestClickPropagatesOpenFailure(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	center := NewCenter(Template{}, failingOpener{}, logger)
	n, _ := center.HandlePush(context.Background(), nil)
	if _, err := center.HandleClick(context.Background(), n.ID); err == nil {
		t.Fatalf("open failure should surface")
	}
	if len(center.List()) != 0 {
		t.Fatalf("notification is closed even if the window fails to open")
	}
}
