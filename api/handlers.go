package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/gofiber/fiber/v2"

	"github.com/arclbx/tgindex/types"
)

func SearchByGet(c *fiber.Ctx) error {
	req := types.SearchRequest{
		Query:      c.Query("q"),
		Attachment: types.AttachmentFilter(c.Query("attachment")),
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("page_size", 10),
	}
	if chats := c.Query("chats"); chats != "" {
		req.ChatIDs = slice.Compact(slice.Map(strings.Split(chats, ","), func(i int, raw string) int64 {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return 0
			}
			return id
		}))
	}
	results, err := svc.Search(c.Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"results": results,
	})
}

func SearchByPost(c *fiber.Ctx) error {
	request := new(SearchByPostRequest)
	if err := c.BodyParser(request); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Invalid request body"}
	}
	if err := validate.StructCtx(c.Context(), request); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Validation failed: " + err.Error()}
	}
	results, err := svc.Search(c.Context(), types.SearchRequest{
		Query:      request.Query,
		ChatIDs:    request.ChatIDs,
		Attachment: types.AttachmentFilter(request.Attachment),
		Page:       request.Page,
		PageSize:   request.PageSize,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"results": results,
	})
}

func GetStatus(c *fiber.Ctx) error {
	report, err := svc.Status(c.Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"report": report,
	})
}

func GetRandom(c *fiber.Ctx) error {
	doc, err := svc.RandomDocument(c.Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"document": doc,
	})
}

// PostBackfill starts a history download in the background. Resolution and
// policy checks run before the response so obvious mistakes still fail the
// request itself.
func PostBackfill(c *fiber.Ctx) error {
	request := new(BackfillRequest)
	if err := c.BodyParser(request); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Invalid request body"}
	}
	if err := validate.StructCtx(c.Context(), request); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Validation failed: " + err.Error()}
	}
	if _, err := pipe.ResolveBackfillTarget(c.Context(), request.Chat); err != nil {
		return httpError(err)
	}

	go func() {
		ctx := context.Background()
		indexed, err := pipe.Backfill(ctx, request.Chat, request.MinID, request.MaxID, nil)
		if err != nil {
			log.Error("Backfill failed", "chat", request.Chat, "error", err)
			return
		}
		log.Info("Backfill finished", "chat", request.Chat, "indexed", indexed)
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
		"chat":   request.Chat,
	})
}

func DeleteChat(c *fiber.Ctx) error {
	chatID, err := c.ParamsInt("chat_id")
	if err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Chat ID is required"}
	}
	removed, err := pipe.RemoveChatData(c.Context(), types.ShareID(int64(chatID)))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"removed": removed,
	})
}

func DeleteAllChats(c *fiber.Ctx) error {
	removed, err := pipe.RemoveAllData(c.Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"removed": removed,
	})
}
