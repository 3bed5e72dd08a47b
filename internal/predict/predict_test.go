package predict

import (
	"errors"
	"strings"
	"testing"

	"petlens/internal/petapi"
)

func TestLevelOf(t *testing.T) {
	tests := []struct {
		confidence float64
		expected   Level
	}{
		{95, LevelHigh},
		{70, LevelHigh},
		{69.9, LevelMedium},
		{50, LevelMedium},
		{49.9, LevelLow},
		{0, LevelLow},
	}

	for _, tt := range tests {
		if got := LevelOf(tt.confidence); got != tt.expected {
			t.Errorf("LevelOf(%v) = %s, expected %s", tt.confidence, got, tt.expected)
		}
	}
}

func TestInterpret(t *testing.T) {
	predictions := map[string]petapi.Prediction{
		petapi.AttributeBodyCondition: {Predicted: "normal", DisplayName: "Normal", ConfidencePercentage: 45},
		petapi.AttributeBreed:         {Predicted: "labrador", DisplayName: "Labrador Retriever", ConfidencePercentage: 87},
		petapi.AttributeStage:         {Predicted: "adulto", Confidence: 0.62},
	}

	results := Interpret(predictions, 70)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	order := []string{petapi.AttributeBreed, petapi.AttributeStage, petapi.AttributeBodyCondition}
	for i, attr := range order {
		if results[i].Attribute != attr {
			t.Errorf("Result %d: expected %s, got %s", i, attr, results[i].Attribute)
		}
	}

	breed := results[0]
	if !breed.Confident || breed.Level != LevelHigh || breed.DisplayName != "Labrador Retriever" {
		t.Errorf("Unexpected breed result: %+v", breed)
	}
	if breed.Text != "信頼度: 87.0%" {
		t.Errorf("Unexpected text: %s", breed.Text)
	}

	// 割合のみの予測は百分率に換算し、表示名が無ければ予測値を使う
	stage := results[1]
	if stage.Confidence < 61.9 || stage.Confidence > 62.1 || stage.Level != LevelMedium || stage.Confident {
		t.Errorf("Unexpected stage result: %+v", stage)
	}
	if stage.DisplayName != "adulto" {
		t.Errorf("Expected display name fallback, got %s", stage.DisplayName)
	}
	if !strings.HasSuffix(stage.Text, "(低)") {
		t.Errorf("Expected low confidence marker, got %s", stage.Text)
	}

	body := results[2]
	if body.Level != LevelLow || body.Confident {
		t.Errorf("Unexpected body condition result: %+v", body)
	}
}

func TestInterpret_DefaultThreshold(t *testing.T) {
	results := Interpret(map[string]petapi.Prediction{
		petapi.AttributeBreed: {Predicted: "beagle", ConfidencePercentage: 65},
	}, 0)

	if results[0].Confident {
		t.Error("Expected 65% to be below the default threshold")
	}

	results = Interpret(map[string]petapi.Prediction{
		petapi.AttributeBreed: {Predicted: "beagle", ConfidencePercentage: 65},
	}, 60)
	if !results[0].Confident {
		t.Error("Expected 65% to pass a threshold of 60")
	}
}

func TestErrorText_BreedNotRecognized(t *testing.T) {
	serr := &petapi.ServerError{
		Code:    CodeBreedNotRecognized,
		Message: "La mascota no pertenece a las razas reconocidas",
		Details: &petapi.ErrorDetails{
			Explanation:        "Confianza insuficiente",
			ConfidenceDetected: 42.5,
			ConfidenceRequired: 70,
			Recommendation:     "Intente con otra foto",
		},
	}

	text := ErrorText(serr)
	for _, want := range []string{
		"La mascota no pertenece a las razas reconocidas",
		"Confianza insuficiente",
		"検出された信頼度: 42.5%",
		"必要な信頼度: 70%",
		"Intente con otra foto",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected text to contain %q, got:\n%s", want, text)
		}
	}
}

func TestErrorText_Other(t *testing.T) {
	if got := ErrorText(&petapi.ServerError{Message: "El archivo debe ser una imagen"}); got != "El archivo debe ser una imagen" {
		t.Errorf("Unexpected text: %s", got)
	}
	if got := ErrorText(nil); !strings.Contains(got, "不正") {
		t.Errorf("Unexpected text for nil: %s", got)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(&petapi.TransportError{Op: "POST", Err: errors.New("refused")}); !strings.Contains(got, "接続") {
		t.Errorf("Unexpected transport text: %s", got)
	}
	if got := Describe(&petapi.ParseError{Status: 500}); !strings.Contains(got, "不正") {
		t.Errorf("Unexpected parse text: %s", got)
	}
	if got := Describe(&petapi.ServerError{Message: "x"}); got != "x" {
		t.Errorf("Unexpected server text: %s", got)
	}
}
