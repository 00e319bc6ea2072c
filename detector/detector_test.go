package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijahnyp/home_security/security"
)

var (
	_ security.CatDetector = (*HTTP)(nil)
	_ security.CatDetector = (*Fake)(nil)
)

func testFrame(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{100, 100, 100, 255})
		}
	}
	return img
}

func detectionServer(t *testing.T, predictions []Prediction, gotMinConfidence *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image part: %v", err)
		} else if _, err := jpeg.Decode(file); err != nil {
			t.Errorf("image part is not a jpeg: %v", err)
		}
		if gotMinConfidence != nil {
			*gotMinConfidence = r.FormValue("min_confidence")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Results{Success: true, Predictions: predictions}) //nolint:errcheck // test helper
	}))
}

func TestHTTP_ImageContainsCat(t *testing.T) {
	tests := []struct {
		name        string
		predictions []Prediction
		threshold   float32
		expected    bool
	}{
		{"Confident cat", []Prediction{{Label: "cat", Confidence: 0.85}}, 50, true},
		{"Cat at threshold", []Prediction{{Label: "cat", Confidence: 0.5}}, 50, true},
		{"Unsure cat", []Prediction{{Label: "cat", Confidence: 0.3}}, 50, false},
		{"Person only", []Prediction{{Label: "person", Confidence: 0.99}}, 50, false},
		{"Best of several cats", []Prediction{
			{Label: "cat", Confidence: 0.2},
			{Label: "dog", Confidence: 0.9},
			{Label: "cat", Confidence: 0.75},
		}, 70, true},
		{"Nothing", nil, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := detectionServer(t, tt.predictions, nil)
			defer server.Close()

			d := NewHTTP(server.URL, server.Client())
			cat, err := d.ImageContainsCat(context.Background(), testFrame(16), tt.threshold)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, cat)
		})
	}
}

func TestHTTP_SendsFractionalConfidence(t *testing.T) {
	var minConfidence string
	server := detectionServer(t, nil, &minConfidence)
	defer server.Close()

	d := NewHTTP(server.URL, nil)
	_, err := d.ImageContainsCat(context.Background(), testFrame(8), 50)

	require.NoError(t, err)
	assert.Equal(t, "0.5", minConfidence)
}

func TestHTTP_KeepsLastFrame(t *testing.T) {
	server := detectionServer(t, []Prediction{{Label: "cat", Confidence: 0.9, X_max: 10, Y_max: 10}}, nil)
	defer server.Close()

	d := NewHTTP(server.URL, server.Client())
	_, ok := d.Last()
	require.False(t, ok)

	frame := testFrame(8)
	_, err := d.ImageContainsCat(context.Background(), frame, 50)
	require.NoError(t, err)

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, frame, last.Image)
	assert.True(t, last.Results.Success)
	assert.NotZero(t, last.Results.Timestamp)
	assert.Len(t, last.Results.Predictions, 1)
}

func TestHTTP_ServerErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewHTTP(server.URL, server.Client()).ImageContainsCat(context.Background(), testFrame(8), 50)
		require.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json")) //nolint:errcheck // test helper
		}))
		defer server.Close()

		_, err := NewHTTP(server.URL, server.Client()).ImageContainsCat(context.Background(), testFrame(8), 50)
		require.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewHTTP(url, nil).ImageContainsCat(context.Background(), testFrame(8), 50)
		require.Error(t, err)
	})
}

func TestResults_Best(t *testing.T) {
	r := Results{Predictions: []Prediction{
		{Label: "cat", Confidence: 0.4},
		{Label: "cat", Confidence: 0.6},
	}}

	best, ok := r.Best("cat")
	require.True(t, ok)
	assert.InDelta(t, 0.6, best.Confidence, 0.0001)

	_, ok = r.Best("dog")
	assert.False(t, ok)
}

func TestFake(t *testing.T) {
	yes, err := NewFixed(true).ImageContainsCat(context.Background(), nil, 50)
	require.NoError(t, err)
	assert.True(t, yes)

	no, err := NewFixed(false).ImageContainsCat(context.Background(), nil, 50)
	require.NoError(t, err)
	assert.False(t, no)

	// same seed, same answers
	a, b := NewFake(42), NewFake(42)
	seen := map[bool]bool{}
	for i := 0; i < 64; i++ {
		x, _ := a.ImageContainsCat(context.Background(), nil, 50)
		y, _ := b.ImageContainsCat(context.Background(), nil, 50)
		assert.Equal(t, x, y)
		seen[x] = true
	}
	assert.Len(t, seen, 2, "a coin should land both ways in 64 flips")

	var unseeded Fake
	_, err = unseeded.ImageContainsCat(context.Background(), nil, 50)
	require.NoError(t, err)
}

func TestMarkup(t *testing.T) {
	img := testFrame(300)

	marked := Markup(img, []Prediction{{
		Label:      "cat",
		Confidence: 0.85,
		X_min:      50,
		Y_min:      50,
		X_max:      150,
		Y_max:      150,
	}})

	bounds := marked.Bounds()
	if bounds.Max.X != 300 || bounds.Max.Y != 300 {
		t.Errorf("Expected bounds 300x300, got %dx%d", bounds.Max.X, bounds.Max.Y)
	}

	for _, p := range []image.Point{{50, 50}, {150, 50}, {50, 150}, {150, 150}} {
		r, g, _, _ := marked.At(p.X, p.Y).RGBA()
		if r < 50000 || g > 1000 {
			t.Errorf("Expected red markup at %v", p)
		}
	}

	r, _, _, _ := marked.At(100, 100).RGBA()
	if r > 50000 {
		t.Error("Centre of the box should be untouched")
	}

	// source is not modified
	r, _, _, _ = img.At(50, 50).RGBA()
	if r > 50000 {
		t.Error("Markup should not draw on the source image")
	}
}
