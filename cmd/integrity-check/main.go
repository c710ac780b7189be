// Command integrity-check verifies the local CAP schema against the pinned
// manifest hash, restores a drifted schema from the canonical source, and
// validates the workspace CAP record. The verdict is archived and the exit
// code reports it: 0 for PASS, 1 for FAIL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"capbridge/internal/integrity"
	"capbridge/internal/platform/config"
	"capbridge/internal/platform/logger"
	"capbridge/internal/schema"
)

func main() {
	baseDir := flag.String("workspace", ".", "workspace root holding schemas, manifest, and the CAP record")
	asJSON := flag.Bool("json", false, "print the verdict record as JSON")
	flag.Parse()

	cfg := config.IntegrityFromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	canonical := schema.NewCanonical(cfg.CanonicalSchemaURL, cfg.CanonicalManifestURL, cfg.FetchTimeout)
	service := integrity.NewService(cfg, canonical, log, *baseDir)

	res, err := service.Run(ctx)
	if err != nil {
		log.Error("integrity run failed", "error", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"runtime":          res.Runtime,
			"manifest_version": res.ManifestVersion,
			"schema_hash":      res.SchemaHash,
			"verdict":          res.Verdict,
			"status":           string(res.Status),
		})
	} else {
		fmt.Printf("%s: %s\n", res.Status, res.Verdict)
	}

	if res.Status != integrity.StatusPass {
		os.Exit(1)
	}
}
