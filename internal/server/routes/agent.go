package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/lifecycle"
	"github.com/discussionblog/offline-agent/internal/notify"
)

// AgentDeps 汇总 /-/agent 接口需要的组件。
type AgentDeps struct {
	Registration  *lifecycle.Registration
	Storage       cache.Storage
	Sync          *notify.SyncHandler
	Notifications *notify.Center
}

// RegisterAgentRoutes 暴露 /-/agent 管理接口：状态诊断、后台同步、推送与通知点击、跳过等待。
func RegisterAgentRoutes(app *fiber.App, deps AgentDeps) {
	if app == nil || deps.Registration == nil {
		return
	}

	app.Get("/-/agent/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Clients: deps.Registration.Clients().List(),
		}
		if active := deps.Registration.Active(); active != nil {
			st := active.Status()
			payload.Active = &st
		}
		if waiting := deps.Registration.Waiting(); waiting != nil {
			st := waiting.Status()
			payload.Waiting = &st
		}
		if deps.Storage != nil {
			caches, err := encodeCaches(c, deps.Storage)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
			}
			payload.Caches = caches
		}
		return c.JSON(payload)
	})

	app.Post("/-/agent/sync", func(c fiber.Ctx) error {
		if deps.Sync == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "sync_unavailable"})
		}
		var body struct {
			Tag string `json:"tag"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		tag := strings.TrimSpace(body.Tag)
		if tag == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tag_required"})
		}
		handled, err := deps.Sync.Handle(c.Context(), tag)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed"})
		}
		return c.JSON(fiber.Map{"tag": tag, "handled": handled})
	})

	app.Post("/-/agent/push", func(c fiber.Ctx) error {
		if deps.Notifications == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "push_unavailable"})
		}
		n, err := deps.Notifications.HandlePush(c.Context(), append([]byte(nil), c.Body()...))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "push_failed"})
		}
		return c.Status(fiber.StatusCreated).JSON(n)
	})

	app.Get("/-/agent/notifications", func(c fiber.Ctx) error {
		if deps.Notifications == nil {
			return c.JSON(fiber.Map{"notifications": []notify.Notification{}})
		}
		return c.JSON(fiber.Map{"notifications": deps.Notifications.List()})
	})

	app.Post("/-/agent/notifications/:id/click", func(c fiber.Ctx) error {
		if deps.Notifications == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
		}
		client, err := deps.Notifications.HandleClick(c.Context(), c.Params("id"))
		switch {
		case errors.Is(err, notify.ErrNotificationNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "open_window_failed"})
		}
		return c.JSON(client)
	})

	app.Post("/-/agent/skip-waiting", func(c fiber.Ctx) error {
		err := deps.Registration.SkipWaiting(c.Context())
		switch {
		case errors.Is(err, lifecycle.ErrNoWaitingWorker):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_waiting_worker"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activate_failed"})
		}
		return c.JSON(deps.Registration.Active().Status())
	})
}

type statusPayload struct {
	Active  *lifecycle.Status  `json:"active"`
	Waiting *lifecycle.Status  `json:"waiting"`
	Clients []lifecycle.Client `json:"clients"`
	Caches  []cachePayload     `json:"caches,omitempty"`
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func encodeCaches(c fiber.Ctx, storage cache.Storage) ([]cachePayload, error) {
	ctx := c.Context()
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		store, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return nil, err
		}
		result = append(result, cachePayload{Name: name, Entries: len(keys)})
	}
	return result, nil
}
