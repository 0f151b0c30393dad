package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clearpipe/pipeline"
	"github.com/clearpipe/pipeline/memory"
)

func main() {
	ctx := context.Background()

	// Wire up the in-memory backend behind the Backend interface.
	store := pipeline.New(memory.New(), nil)

	// Scratch data for the walkthrough.
	dir, err := os.MkdirTemp("", "clearpipe-example")
	if err != nil {
		log.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(dir)

	dataPath := filepath.Join(dir, "iris.csv")
	if err := os.WriteFile(dataPath, []byte("sepal,petal,label\n5.1,1.4,setosa\n"), 0o644); err != nil {
		log.Fatalf("write data: %v", err)
	}

	// ── Build a draft: dataset → report ───────────────────────────────
	datasetID, err := store.AddNode(pipeline.TypeDataset, pipeline.Position{X: 100, Y: 100})
	if err != nil {
		log.Fatalf("add dataset node: %v", err)
	}
	reportID, err := store.AddNode(pipeline.TypeReport, pipeline.Position{X: 400, Y: 100})
	if err != nil {
		log.Fatalf("add report node: %v", err)
	}
	if _, err := store.Connect(datasetID, reportID); err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Printf("draft built: %s -> %s\n", datasetID, reportID)

	// ── Configure the nodes ───────────────────────────────────────────
	if err := store.UpdateNodeConfig(datasetID, &pipeline.DatasetConfig{
		Source: "local",
		Path:   dataPath,
		Format: "csv",
	}); err != nil {
		log.Fatalf("configure dataset: %v", err)
	}
	if err := store.UpdateNodeConfig(reportID, &pipeline.ReportConfig{
		Title:      "Iris Run",
		Format:     "json",
		OutputPath: filepath.Join(dir, "report.json"),
	}); err != nil {
		log.Fatalf("configure report: %v", err)
	}

	// ── Resolve a reference against the upstream node ─────────────────
	dataset, err := store.Node(datasetID)
	if err != nil {
		log.Fatalf("get node: %v", err)
	}
	resolved, err := pipeline.Resolve("{{sourceNode.path}}", dataset, nil)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	fmt.Printf("\n{{sourceNode.path}} resolves to: %s\n", resolved)

	// ── Run the draft ─────────────────────────────────────────────────
	runner := pipeline.NewRunner(store, pipeline.DefaultExecutors(store, nil, nil), nil)
	report, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	fmt.Printf("\nrun finished, %d failed:\n", report.Failed())
	printJSON(report.Results)

	// ── Save, then list ───────────────────────────────────────────────
	saved, err := store.SavePipeline(ctx, "iris-demo", "dataset to report walkthrough")
	if err != nil {
		log.Fatalf("save: %v", err)
	}
	fmt.Printf("\nsaved pipeline %s (version %d, dirty=%v)\n", saved.ID, saved.Version, store.Dirty())

	pipelines, err := store.ListSaved(ctx)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	fmt.Printf("saved pipelines: %d\n", len(pipelines))

	// ── Export the draft ──────────────────────────────────────────────
	out, err := store.Export()
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	fmt.Println("\nexport document:")
	fmt.Println(string(out))
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
