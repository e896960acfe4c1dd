// Thin single-user client for the detection service: uploads one image,
// writes the annotated result next to it.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const defaultEndpoint = "http://localhost:8000/api/v1/predict/"

func main() {
	endpoint := flag.String("url", defaultEndpoint, "detection service endpoint")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-url endpoint] <image.jpg|jpeg|png>\n", os.Args[0])
		os.Exit(2)
	}
	imagePath := flag.Arg(0)

	ext := strings.ToLower(filepath.Ext(imagePath))
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		fmt.Fprintln(os.Stderr, "error: only .jpg, .jpeg and .png images are supported")
		os.Exit(2)
	}

	annotated, err := upload(*endpoint, imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := strings.TrimSuffix(imagePath, ext) + "_annotated" + ext
	if err := os.WriteFile(outPath, annotated, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to save result image")
		os.Exit(1)
	}

	fmt.Printf("annotated image written to %s\n", outPath)
}

func upload(endpoint, imagePath string) ([]byte, error) {
	src, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", imagePath, err)
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, err
	}
	writer.Close()

	resp, err := http.Post(endpoint, writer.FormDataContentType(), body)
	if err != nil {
		// Transport failures surface with full detail.
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection failed (status %d)", resp.StatusCode)
	}

	annotated, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("detection failed")
	}

	return annotated, nil
}
