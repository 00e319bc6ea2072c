// Package detector contains the cat detectors the alarm engine can use.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const CatLabel = "cat"

type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Y_min      int     `json:"y_min"`
	X_min      int     `json:"x_min"`
	X_max      int     `json:"x_max"`
	Y_max      int     `json:"y_max"`
}

type Results struct {
	Predictions []Prediction `json:"predictions"`
	Timestamp   int64        `json:"timestamp"`
	Success     bool         `json:"success"`
}

// Best returns the most confident prediction with the given label.
func (r Results) Best(label string) (Prediction, bool) {
	var best Prediction
	found := false
	for _, p := range r.Predictions {
		if p.Label == label && (!found || p.Confidence > best.Confidence) {
			best = p
			found = true
		}
	}
	return best, found
}

// Frame is the last image sent for detection and what came back.
type Frame struct {
	Image   image.Image
	Results Results
}

// HTTP asks an object detection server whether a frame shows a cat.
// The server takes a multipart form with an "image" file and a
// "min_confidence" field between 0 and 1.
type HTTP struct {
	URL    string
	Client *http.Client

	mu   sync.RWMutex
	last *Frame
}

func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{URL: url, Client: client}
}

// ImageContainsCat sends img to the server. confidenceThreshold is a
// percentage, the server works in fractions.
func (d *HTTP) ImageContainsCat(ctx context.Context, img image.Image, confidenceThreshold float32) (bool, error) {
	minConfidence := confidenceThreshold / 100

	results, err := d.detect(ctx, img, minConfidence)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.last = &Frame{Image: img, Results: results}
	d.mu.Unlock()

	best, ok := results.Best(CatLabel)
	return ok && best.Confidence >= minConfidence, nil
}

// Last returns the most recent frame and its detection results.
func (d *HTTP) Last() (Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Frame{}, false
	}
	return *d.last, true
}

func (d *HTTP) detect(ctx context.Context, img image.Image, minConfidence float32) (Results, error) {
	var results Results

	uploadBody := bytes.NewBuffer(nil)
	multipartWriter := multipart.NewWriter(uploadBody)
	part, err := multipartWriter.CreateFormFile("image", "snap.jpeg")
	if err != nil {
		return results, fmt.Errorf("create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, nil); err != nil {
		return results, fmt.Errorf("encode frame: %w", err)
	}
	if err := multipartWriter.WriteField("min_confidence", strconv.FormatFloat(float64(minConfidence), 'f', -1, 32)); err != nil {
		return results, fmt.Errorf("write form field: %w", err)
	}
	// must close before sending or the content length is wrong
	if err := multipartWriter.Close(); err != nil {
		return results, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, uploadBody)
	if err != nil {
		return results, fmt.Errorf("build detection request: %w", err)
	}
	req.Header.Set("Content-Type", multipartWriter.FormDataContentType())
	resp, err := d.Client.Do(req)
	if err != nil {
		return results, fmt.Errorf("post to detection server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		return results, fmt.Errorf("non-2xx code from detection server: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return results, fmt.Errorf("read detection response: %w", err)
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return results, fmt.Errorf("unmarshal detection result: %w", err)
	}
	results.Timestamp = time.Now().Unix()
	return results, nil
}
