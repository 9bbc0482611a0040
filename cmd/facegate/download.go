package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/facegate/facegate/pkg/logging"
)

const cascadeURL = "https://raw.githubusercontent.com/esimov/pigo/master/cascade/facefinder"

func cmdDownloadModels(args []string) error {
	modelDir := cfg.ModelsDir()
	if len(args) > 0 {
		modelDir = args[0]
	}

	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	target := filepath.Join(modelDir, "facefinder")
	if _, err := os.Stat(target); err == nil {
		logging.Info("Cascade already exists, skipping")
	} else {
		logging.Info("Downloading face detection cascade...")
		if err := downloadFile(cascadeURL, target); err != nil {
			return fmt.Errorf("failed to download cascade: %w", err)
		}
		logging.Info("Cascade downloaded")
	}

	if _, err := os.Stat(cfg.Embedding.ModelFile); err != nil {
		fmt.Println("The embedding network is not distributed here.")
		fmt.Println("Export the OpenFace nn4.small2.v1 model to ONNX and place it at:")
		fmt.Printf("  %s\n", cfg.Embedding.ModelFile)
		fmt.Println("Until then, recognition runs on the histogram fallback.")
	}

	return nil
}

func downloadFile(url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, resp.Body)
	return err
}
