package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/tiff"

	"alinify/internal/models"
	"alinify/pkg/config"
	"alinify/pkg/correction"
	"alinify/pkg/field"
	"alinify/pkg/stitch"
	"alinify/pkg/visualization"
	"alinify/pkg/warp"
)

func main() {
	mode := flag.String("mode", "stitch", "Pipeline stage to run: stitch or warp")
	configPath := flag.String("config", "alinify.yaml", "Configuration file (missing file uses defaults)")
	inputDir := flag.String("input", "", "Directory of scan strip images, stitched in filename order (stitch mode)")
	imagePath := flag.String("image", "", "RGB image to warp (warp mode)")
	fieldPath := flag.String("field", "", "Deformation field file (warp mode)")
	pointsPath := flag.String("points", "", "Optional control point file, one 'refX refY tgtX tgtY' pair per line at field resolution")
	outputPath := flag.String("output", "output.png", "Output image filename")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config file: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("ALINIFY SCAN ALIGNMENT PIPELINE")
	fmt.Println("================================")

	switch *mode {
	case "stitch":
		if *inputDir == "" {
			flag.Usage()
			os.Exit(1)
		}
		if err := runStitch(cfg, *inputDir, *outputPath); err != nil {
			log.Fatalf("Stitching failed: %v", err)
		}
	case "warp":
		if *imagePath == "" || *fieldPath == "" {
			flag.Usage()
			os.Exit(1)
		}
		if err := runWarp(cfg, *imagePath, *fieldPath, *pointsPath, *outputPath); err != nil {
			log.Fatalf("Warping failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q (want stitch or warp)", *mode)
	}
}

// runStitch assembles every image in dir, in filename order, into one
// canvas and saves it as PNG.
func runStitch(cfg *config.Config, dir, outputPath string) error {
	paths, err := listImages(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no strip images found in %s", dir)
	}
	fmt.Printf("Found %d scan strips in %s\n", len(paths), dir)

	scfg := stitch.Config{
		OverlapPixels:          cfg.Stitching.OverlapPixels,
		MinCorrelation:         cfg.Stitching.MinCorrelation,
		ReversalCompensationPx: cfg.Stitching.ReversalCompensationPx,
		Bidirectional:          cfg.Stitching.Bidirectional,
		PixelsPerMM:            cfg.Stitching.PixelsPerMM,
	}
	stitcher := stitch.NewStitcher(scfg)

	startTime := time.Now()
	for i, path := range paths {
		strip, err := loadStrip(path, i, scfg.Bidirectional)
		if err != nil {
			// A decode failure is a gap in the sequence; the stitcher
			// records it and carries on.
			fmt.Printf("  strip %3d: %s: %v\n", i, filepath.Base(path), err)
			strip = &models.ScanStrip{Seq: i}
		} else if cfg.Output.Verbose {
			fmt.Printf("  strip %3d: %s (%dx%d, %s)\n",
				i, filepath.Base(path), strip.Width, strip.Height, strip.Direction)
		}
		stitcher.Add(strip)
	}
	result, err := stitcher.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("\nStitched %dx%d canvas in %.2f seconds\n",
		result.Image.Width(), result.Image.Height(), time.Since(startTime).Seconds())
	printWarnings(result.Warnings)

	if err := savePNG(result.Image.Gray, outputPath); err != nil {
		return err
	}
	fmt.Printf("Stitched image saved to: %s\n", outputPath)
	return nil
}

// runWarp applies a stored deformation field, plus any manual control
// point corrections, to an RGB image.
func runWarp(cfg *config.Config, imagePath, fieldPath, pointsPath, outputPath string) error {
	src, err := loadRGBA(imagePath)
	if err != nil {
		return err
	}
	f, err := field.Load(fieldPath)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %dx%d image and %dx%d deformation field\n",
		src.Rect.Dx(), src.Rect.Dy(), f.Width, f.Height)

	if pointsPath != "" {
		list, err := loadPoints(pointsPath, f.Width, f.Height)
		if err != nil {
			return err
		}
		blender := correction.Blender{
			Radius:       cfg.Correction.RadiusPixels,
			CutoffSigmas: cfg.Correction.CutoffSigmas,
		}
		corrected, pending, err := blender.Apply(f, list)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Printf("Warning: %d control points still unpaired\n", len(pending))
		}
		fmt.Printf("Applied %d control point corrections\n", len(list.Pairs()))
		f = corrected
	}

	if cfg.Output.FieldPreview {
		dir := filepath.Dir(outputPath)
		if err := visualization.NewViewer(f).SaveAll(dir); err != nil {
			return fmt.Errorf("saving field preview: %w", err)
		}
		fmt.Printf("Field previews saved to: %s\n", dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := warp.NewEngine(warp.Config{
		SinglePassMaxPixels: cfg.Warp.SinglePassMaxPixels,
		TileSize:            cfg.Warp.TileSize,
		TileOverlap:         cfg.Warp.TileOverlap,
		Workers:             cfg.Warp.NumWorkers,
	})

	fmt.Printf("Warping with %d workers...\n", cfg.Warp.NumWorkers)
	startTime := time.Now()
	out, err := engine.Warp(ctx, src, f, src.Rect.Dx(), src.Rect.Dy())
	if err != nil {
		return err
	}
	fmt.Printf("Warp completed in %.2f seconds\n", time.Since(startTime).Seconds())

	if cfg.Output.SaveField {
		fieldOut := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".field"
		if err := f.Save(fieldOut); err != nil {
			return err
		}
		fmt.Printf("Deformation field saved to: %s\n", fieldOut)
	}

	if err := savePNG(out, outputPath); err != nil {
		return err
	}
	fmt.Printf("Corrected image saved to: %s\n", outputPath)
	return nil
}

// listImages returns the image files in dir sorted by filename, which
// is the capture order for strip scans.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// loadStrip decodes one strip image into grayscale. In bidirectional
// mode odd sequence numbers are reverse passes.
func loadStrip(path string, seq int, bidirectional bool) (*models.ScanStrip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)

	dir := models.Forward
	if bidirectional && seq%2 == 1 {
		dir = models.Reverse
	}
	return &models.ScanStrip{
		Pix:       gray.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Seq:       seq,
		Direction: dir,
	}, nil
}

func loadRGBA(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// loadPoints reads a control point file: one "refX refY tgtX tgtY"
// line per pair, '#' comments, coordinates at field resolution.
func loadPoints(path string, width, height int) (*correction.PointList, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	list := correction.NewPointList(width, height)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rx, ry, tx, ty float64
		if _, err := fmt.Sscanf(line, "%f %f %f %f", &rx, &ry, &tx, &ty); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), lineNo, err)
		}
		list.AddReference(correction.Point{X: rx, Y: ry})
		list.AddTarget(correction.Point{X: tx, Y: ty})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func printWarnings(warnings []stitch.Warning) {
	if len(warnings) == 0 {
		fmt.Println("No alignment warnings")
		return
	}
	fmt.Printf("%d alignment warnings:\n", len(warnings))
	for _, w := range warnings {
		fmt.Printf("  strip %3d: %s\n", w.Seq, w.Reason)
	}
}

func savePNG(img image.Image, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
