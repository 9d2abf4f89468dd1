// Package api is the HTTP surface over the search façade and the ingestion
// pipeline.
package api

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"github.com/arclbx/tgindex/config"
	"github.com/arclbx/tgindex/ingest"
	"github.com/arclbx/tgindex/service"
)

var (
	svc      *service.Service
	pipe     *ingest.Pipeline
	validate = validator.New()

	storedKeyHash []byte
)

func validateAPIKey(ctx *fiber.Ctx, key string) (bool, error) {
	if config.C.API.Key == "" {
		return true, nil
	}
	if key == "" {
		return false, keyauth.ErrMissingOrMalformedAPIKey
	}
	inputSum := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(inputSum[:], storedKeyHash) == 1 {
		return true, nil
	}
	return false, keyauth.ErrMissingOrMalformedAPIKey
}

func Serve(addr string, s *service.Service, p *ingest.Pipeline) {
	svc = s
	pipe = p

	app := fiber.New(fiber.Config{
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	loggerCfg := logger.ConfigDefault
	loggerCfg.Format = "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${queryParams} | ${error}\n"
	app.Use(logger.New(loggerCfg))
	app.Use(cors.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return xid.New().String() },
	}))

	rg := app.Group("/api")
	if config.C.API.Key != "" {
		rg.Use(keyauth.New(keyauth.Config{Validator: validateAPIKey}))
		sum := sha256.Sum256([]byte(config.C.API.Key))
		storedKeyHash = sum[:]
	}
	rg.Get("/search", SearchByGet)
	rg.Post("/search", SearchByPost)
	rg.Get("/status", GetStatus)
	rg.Get("/random", GetRandom)
	rg.Post("/backfill", PostBackfill)
	rg.Delete("/chats/:chat_id<int>", DeleteChat)
	rg.Delete("/chats", DeleteAllChats)

	go func() {
		if err := app.Listen(addr); err != nil {
			panic(err)
		}
	}()
}
