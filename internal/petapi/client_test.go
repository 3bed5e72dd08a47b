package petapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Options{BaseURL: baseURL, Timeout: 5 * time.Second, CSRFToken: "csrf-token"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost", "://bad"} {
		if _, err := NewClient(Options{BaseURL: u}); err == nil {
			t.Errorf("Expected error for base URL %q", u)
		}
	}
}

func TestUploadBiometric(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	server.SetCount("42", 18)

	client := newTestClient(t, server.URL)

	result, err := client.UploadBiometric(context.Background(), "42", testJPEG)
	if err != nil {
		t.Fatalf("UploadBiometric failed: %v", err)
	}

	if !result.Success || result.ImagesCount != 19 || result.ImagesRemaining != 1 || result.LimitReached {
		t.Errorf("Unexpected result: %+v", result)
	}

	header := server.LastHeader()
	if header.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Error("Expected X-Requested-With header")
	}
	if header.Get("X-CSRFToken") != "csrf-token" {
		t.Error("Expected X-CSRFToken header")
	}
	if header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	result, err = client.UploadBiometric(context.Background(), "42", testJPEG)
	if err != nil {
		t.Fatalf("UploadBiometric failed: %v", err)
	}
	if !result.LimitReached || result.ImagesCount != 20 {
		t.Errorf("Expected limit reached at 20, got %+v", result)
	}
}

func TestUploadBiometric_LimitReached(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	server.SetCount("42", 20)

	client := newTestClient(t, server.URL)

	_, err := client.UploadBiometric(context.Background(), "42", testJPEG)
	if err == nil {
		t.Fatal("Expected error when limit is reached")
	}

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected ServerError, got %T", err)
	}
	if serr.Status != http.StatusBadRequest || !serr.LimitReached || serr.ImagesCount != 20 {
		t.Errorf("Unexpected server error: %+v", serr)
	}
	if !IsLimitReached(err) {
		t.Error("Expected IsLimitReached to be true")
	}
}

func TestStatsAndTrain(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	server.SetCount("7", 12)

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	stats, err := client.Stats(ctx, "7")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ImagesCount != 12 {
		t.Errorf("Expected 12 images, got %d", stats.ImagesCount)
	}

	if _, err := client.TrainModel(ctx, "7"); err == nil {
		t.Error("Expected training to fail with too few images")
	}

	server.SetCount("7", 20)
	result, err := client.TrainModel(ctx, "7")
	if err != nil {
		t.Fatalf("TrainModel failed: %v", err)
	}
	if result.ModelID != 7 || result.Seconds != 1.25 {
		t.Errorf("Unexpected train result: %+v", result)
	}
}

func TestRecognize(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	client := newTestClient(t, server.URL)

	result, err := client.Recognize(context.Background(), testJPEG)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Identified() {
		t.Error("Expected no match")
	}
	if result.Match.Message == "" {
		t.Error("Expected message for unmatched result")
	}

	server.SetRecognized(true)
	result, err = client.Recognize(context.Background(), testJPEG)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !result.Identified() || result.Pet.Name != "Luna" || !result.Lost {
		t.Errorf("Unexpected recognition: %+v", result)
	}
	if result.Match.Confidence != 0.93 {
		t.Errorf("Expected confidence 0.93, got %v", result.Match.Confidence)
	}
}

func TestPredict(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	client := newTestClient(t, server.URL)

	result, err := client.Predict(context.Background(), testJPEG)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	breed, ok := result.Predictions[AttributeBreed]
	if !ok {
		t.Fatal("Expected breed prediction")
	}
	if breed.DisplayName != "Labrador Retriever" || breed.ConfidencePercentage != 87 {
		t.Errorf("Unexpected breed prediction: %+v", breed)
	}
}

func TestPredict_BreedNotRecognized(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	server.SetPredictError(map[string]any{
		"success": false,
		"error":   "breed_not_recognized",
		"message": "La mascota no pertenece a las razas reconocidas",
		"details": map[string]any{
			"explanation":         "La confianza es demasiado baja",
			"confidence_detected": 42.5,
			"confidence_required": 70,
			"recommendation":      "Intente con otra foto",
		},
	})
	client := newTestClient(t, server.URL)

	_, err := client.Predict(context.Background(), testJPEG)

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if serr.Code != "breed_not_recognized" {
		t.Errorf("Expected code breed_not_recognized, got %s", serr.Code)
	}
	if serr.Message != "La mascota no pertenece a las razas reconocidas" {
		t.Errorf("Unexpected message: %s", serr.Message)
	}
	if serr.Details == nil || serr.Details.ConfidenceDetected != 42.5 || serr.Details.ConfidenceRequired != 70 {
		t.Errorf("Unexpected details: %+v", serr.Details)
	}
}

func TestNotificationCount(t *testing.T) {
	server := NewFakeServer(20)
	defer server.Close()
	server.SetNotifications(3)
	client := newTestClient(t, server.URL)

	count, err := client.NotificationCount(context.Background())
	if err != nil {
		t.Fatalf("NotificationCount failed: %v", err)
	}
	if count.Count != 3 || !count.HasNotifications {
		t.Errorf("Unexpected count: %+v", count)
	}
}

func TestParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html><body>Server Error</body></html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.NotificationCount(context.Background())

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if perr.Status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", perr.Status)
	}
	if !strings.Contains(perr.Snippet, "Server Error") {
		t.Errorf("Expected snippet of body, got %q", perr.Snippet)
	}
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := newTestClient(t, url)

	_, err := client.Stats(context.Background(), "1")
	if !IsTransport(err) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
}

func TestServerErrorWithoutMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Stats(context.Background(), "1")

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if serr.Status != http.StatusForbidden || serr.Message != "Forbidden" {
		t.Errorf("Unexpected server error: %+v", serr)
	}
}
