package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	imagequery "github.com/D0men1c0/LauzHack"
	"github.com/D0men1c0/LauzHack/internal/config"
	"github.com/D0men1c0/LauzHack/internal/container"
	"github.com/D0men1c0/LauzHack/internal/logger"
	"github.com/D0men1c0/LauzHack/internal/utils"
	"github.com/D0men1c0/LauzHack/pkg/processing"
)

func main() {
	var in, q, configPath, outDir, ext, options string
	var quality int
	var debug, saveConfig bool

	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/gif/webp)")
	flag.StringVar(&q, "q", "", "natural-language query, e.g. \"how many blue cars\"")
	flag.StringVar(&configPath, "config", "", "config file (yaml); defaults to "+config.GetConfigPath()+" when it exists")
	flag.StringVar(&options, "options", "", "comma-separated candidate labels, overrides the config")
	flag.StringVar(&outDir, "out", "out", "output directory")

	flag.StringVar(&ext, "ext", "png", "output format for images: png|jpg|webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&debug, "debug", false, "also write an overlay of every detected region")
	flag.BoolVar(&saveConfig, "save-config", false, "write the effective config to -config (or the default path) and exit")

	flag.Parse()

	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if options != "" {
		cfg.Router.Options = nil
		for _, o := range strings.Split(options, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Router.Options = append(cfg.Router.Options, o)
			}
		}
	}

	if saveConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		log.Printf("wrote %s", path)
		return
	}

	if in == "" || strings.TrimSpace(q) == "" {
		log.Fatalf("usage: %s -in input.jpg|URL -q \"query\" [-config config.yaml] [-options car,person] [-out outdir] [-ext png|jpg|webp] [-debug]", filepath.Base(os.Args[0]))
	}
	if !strings.HasPrefix(in, "http://") && !strings.HasPrefix(in, "https://") {
		if !utils.FileExists(in) {
			log.Fatalf("input %s does not exist", in)
		}
		if !utils.IsImageFile(in) {
			log.Fatalf("input %s is not a supported image (jpg, png, gif, webp)", in)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	resolver, err := container.NewResolver(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build resolver: %v", err)
	}
	defer resolver.Close()

	processor := processing.NewProcessor()
	img, err := processor.LoadImageSmart(ctx, in)
	if err != nil {
		log.Fatal(err)
	}

	result, err := resolver.Resolve(ctx, img, q)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	log.Printf("label=%q similarity=%.3f status=%s regions=%d matched=%d",
		result.Label, result.Similarity, result.Status, len(result.Regions), result.Matched())

	if debug {
		overlay := resolver.DrawDetections(img, result)
		path := utils.GenerateOutputFilename(in, outDir, "", "_detections", ext)
		if err := processor.SaveImage(overlay, path, ext, quality); err != nil {
			log.Printf("debug overlay save failed: %v", err)
		} else {
			log.Printf("wrote %s", path)
		}
	}

	if result.Images != nil {
		outputs := []struct {
			suffix string
			img    image.Image
		}{
			{"_highlighted", result.Images.Highlighted},
			{"_extracted", result.Images.Extracted},
		}
		for _, o := range outputs {
			path := utils.GenerateOutputFilename(in, outDir, "", o.suffix, ext)
			if err := processor.SaveImage(o.img, path, ext, quality); err != nil {
				log.Printf("save %s failed: %v", path, err)
				continue
			}
			log.Printf("wrote %s", path)
		}
	}

	if result.Output != "" {
		fmt.Println(result.Output)
	}
	if result.Status == imagequery.StatusNoMatch {
		fmt.Println(result.Notice)
	} else {
		fmt.Println(result.Explanation)
	}

	resultPath := filepath.Join(outDir, "result.json")
	if err := writeReport(resultPath, newReport(in, q, result)); err != nil {
		log.Printf("save %s failed: %v", resultPath, err)
	} else {
		log.Printf("wrote %s", resultPath)
	}
}

// report is the machine-readable record written next to the images
type report struct {
	Input  string             `json:"input"`
	Query  string             `json:"query"`
	Result *imagequery.Result `json:"result"`
	Rows   []map[string]any   `json:"rows"`
}

func newReport(in, q string, result *imagequery.Result) report {
	r := report{Input: in, Query: q, Result: result, Rows: []map[string]any{}}
	if result.Filter != nil && result.Filter.Filtered != nil {
		r.Rows = result.Filter.Filtered.Records()
	}
	return r
}

// writeReport writes r as indented JSON. Nothing is written when encoding fails.
func writeReport(path string, r report) error {
	js, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, js, 0o644)
}
