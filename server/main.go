package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/clearpipe/pipeline"
	"github.com/clearpipe/pipeline/clearml"
	"github.com/clearpipe/pipeline/memory"
	"github.com/clearpipe/pipeline/postgres"
	"github.com/clearpipe/pipeline/script"
	"github.com/clearpipe/pipeline/sqlite"
)

func main() {
	godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	backend, cleanup, err := newBackend(logger)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer cleanup()

	store := pipeline.New(backend, logger)

	scripts := &script.Runner{
		Python:  os.Getenv("PYTHON_BIN"),
		WorkDir: os.Getenv("SCRIPT_WORKDIR"),
		Log:     logger,
	}
	var registry pipeline.DatasetRegistry
	if wrapper := os.Getenv("CLEARML_WRAPPER"); wrapper != "" {
		registry = &clearml.Client{
			Python:  os.Getenv("PYTHON_BIN"),
			Wrapper: wrapper,
			Log:     logger,
		}
	}
	runner := pipeline.NewRunner(store, pipeline.DefaultExecutors(store, scripts, registry), logger)

	app := fiber.New()

	// ── Saved pipelines ───────────────────────────────────────────────
	app.Get("/pipelines", func(c fiber.Ctx) error {
		pipelines, err := store.ListSaved(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(pipelines)
	})

	app.Post("/pipelines", func(c fiber.Ctx) error {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if body.Name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "name is required"})
		}
		p, err := store.SavePipeline(c.Context(), body.Name, body.Description)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(p)
	})

	app.Post("/pipelines/:id/load", func(c fiber.Ctx) error {
		err := store.LoadPipeline(c.Context(), c.Params("id"))
		if errors.Is(err, pipeline.ErrPipelineNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "pipeline not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	app.Delete("/pipelines/:id", func(c fiber.Ctx) error {
		if err := store.DeleteSaved(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// ── Working draft ─────────────────────────────────────────────────
	app.Get("/draft", func(c fiber.Ctx) error {
		nodes, edges := store.Draft()
		return c.JSON(fiber.Map{
			"nodes":    nodes,
			"edges":    edges,
			"dirty":    store.Dirty(),
			"selected": store.Selected(),
			"current":  store.Current(),
		})
	})

	app.Post("/draft/new", func(c fiber.Ctx) error {
		store.NewPipeline()
		return c.SendStatus(204)
	})

	// ── Nodes ─────────────────────────────────────────────────────────
	app.Post("/draft/nodes", func(c fiber.Ctx) error {
		var body struct {
			Type     pipeline.NodeType `json:"type"`
			Position pipeline.Position `json:"position"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		id, err := store.AddNode(body.Type, body.Position)
		if errors.Is(err, pipeline.ErrUnknownNodeType) {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"id": id})
	})

	app.Get("/draft/nodes/:id", func(c fiber.Ctx) error {
		n, err := store.Node(c.Params("id"))
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(n)
	})

	app.Put("/draft/nodes/:id/config", func(c fiber.Ctx) error {
		err := store.MergeNodeConfig(c.Params("id"), c.Body())
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	app.Put("/draft/nodes/:id/meta", func(c fiber.Ctx) error {
		var body struct {
			Label       string `json:"label"`
			Description string `json:"description"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		err := store.UpdateNodeMeta(c.Params("id"), body.Label, body.Description)
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	app.Delete("/draft/nodes/:id", func(c fiber.Ctx) error {
		err := store.DeleteNode(c.Params("id"))
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	app.Post("/draft/nodes/:id/duplicate", func(c fiber.Ctx) error {
		id, err := store.DuplicateNode(c.Params("id"))
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"id": id})
	})

	app.Get("/draft/nodes/:id/variables", func(c fiber.Ctx) error {
		n, err := store.Node(c.Params("id"))
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"variables": pipeline.OutputVariables(n)})
	})

	app.Patch("/draft/nodes", func(c fiber.Ctx) error {
		var changes []pipeline.NodeChange
		if err := c.Bind().JSON(&changes); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		store.ApplyNodeChanges(changes)
		return c.SendStatus(204)
	})

	// ── Selection ─────────────────────────────────────────────────────
	app.Put("/draft/selection", func(c fiber.Ctx) error {
		var body struct {
			ID string `json:"id"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		err := store.Select(body.ID)
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	app.Delete("/draft/selection", func(c fiber.Ctx) error {
		store.ClearSelection()
		return c.SendStatus(204)
	})

	// ── Edges ─────────────────────────────────────────────────────────
	app.Post("/draft/edges", func(c fiber.Ctx) error {
		var body struct {
			Source string `json:"source"`
			Target string `json:"target"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		id, err := store.Connect(body.Source, body.Target)
		if errors.Is(err, pipeline.ErrNodeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "node not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"id": id})
	})

	app.Delete("/draft/edges/:id", func(c fiber.Ctx) error {
		err := store.DeleteEdge(c.Params("id"))
		if errors.Is(err, pipeline.ErrEdgeNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "edge not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// ── Export / import ───────────────────────────────────────────────
	app.Get("/export", func(c fiber.Ctx) error {
		out, err := store.Export()
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		c.Set("Content-Type", "application/json")
		c.Set("Content-Disposition", `attachment; filename="pipeline.json"`)
		return c.Send(out)
	})

	app.Post("/import", func(c fiber.Ctx) error {
		err := store.Import(c.Body())
		if errors.Is(err, pipeline.ErrInvalidImport) || errors.Is(err, pipeline.ErrUnknownNodeType) {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// ── Run ───────────────────────────────────────────────────────────
	app.Post("/run", func(c fiber.Ctx) error {
		var body struct {
			Types []pipeline.NodeType `json:"types"`
		}
		if len(c.Body()) > 0 {
			if err := c.Bind().JSON(&body); err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
			}
		}
		for _, t := range body.Types {
			if !t.Valid() {
				return c.Status(422).JSON(fiber.Map{"error": "unknown node type " + string(t)})
			}
		}
		report, err := runner.Run(c.Context(), body.Types...)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "report": report})
		}
		return c.JSON(report)
	})

	addr := ":3000"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	log.Fatal(app.Listen(addr))
}

// newBackend picks the persistence backend from the environment:
// DATABASE_URL selects PostgreSQL, PIPELINE_DB a SQLite file, and with
// neither set pipelines live in memory for the life of the process.
func newBackend(logger *slog.Logger) (pipeline.Backend, func(), error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return nil, nil, err
		}
		pg := postgres.New(pool)
		if err := pg.CreateSchema(context.Background()); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres backend")
		return pg, pool.Close, nil
	}

	if path := os.Getenv("PIPELINE_DB"); path != "" {
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite backend", "path", path)
		return db, func() { db.Close() }, nil
	}

	logger.Info("using in-memory backend")
	return memory.New(), func() {}, nil
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
