// Package predict はAI予測の結果を表示用に解釈する
package predict

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"petlens/internal/petapi"
)

// DefaultThreshold は予測を信頼できるとみなす信頼度（%）
const DefaultThreshold = 70.0

// mediumThreshold 以上は中程度の信頼度
const mediumThreshold = 50.0

// CodeBreedNotRecognized は認識対象外の品種を示すエラー種別
const CodeBreedNotRecognized = "breed_not_recognized"

// Level は信頼度の段階
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// LevelOf は信頼度（%）の段階を返す
func LevelOf(confidence float64) Level {
	switch {
	case confidence >= DefaultThreshold:
		return LevelHigh
	case confidence >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Result は1つの属性の予測結果
type Result struct {
	Attribute   string  `json:"attribute"`
	Predicted   string  `json:"predicted"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
	Level       Level   `json:"level"`
	Confident   bool    `json:"confident"`
	Text        string  `json:"text"`
}

// 表示順
var attributeOrder = map[string]int{
	petapi.AttributeBreed:         0,
	petapi.AttributeStage:         1,
	petapi.AttributeBodyCondition: 2,
}

// Interpret は予測を属性ごとに解釈する
// 信頼度が低い予測も表示対象に含める
func Interpret(predictions map[string]petapi.Prediction, threshold float64) []Result {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	results := make([]Result, 0, len(predictions))
	for attr, p := range predictions {
		confidence := p.ConfidencePercentage
		if confidence == 0 && p.Confidence > 0 {
			confidence = p.Confidence * 100
		}

		name := p.DisplayName
		if name == "" {
			name = p.Predicted
		}

		confident := confidence >= threshold
		text := fmt.Sprintf("信頼度: %.1f%%", confidence)
		if !confident {
			text += " (低)"
		}

		results = append(results, Result{
			Attribute:   attr,
			Predicted:   p.Predicted,
			DisplayName: name,
			Confidence:  confidence,
			Level:       LevelOf(confidence),
			Confident:   confident,
			Text:        text,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		oi, iok := attributeOrder[results[i].Attribute]
		oj, jok := attributeOrder[results[j].Attribute]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return results[i].Attribute < results[j].Attribute
		}
	})
	return results
}

// ErrorText はサーバーの予測エラーを表示用の文言にする
func ErrorText(serr *petapi.ServerError) string {
	if serr == nil {
		return "予測に失敗しました: サーバーの応答が不正です"
	}

	if serr.Code != CodeBreedNotRecognized {
		if serr.Message != "" {
			return serr.Message
		}
		return "予測に失敗しました: サーバーの応答が不正です"
	}

	var b strings.Builder
	if serr.Message != "" {
		b.WriteString(serr.Message)
	} else {
		b.WriteString("認識できる品種ではありません")
	}

	if d := serr.Details; d != nil {
		if d.Explanation != "" {
			b.WriteString("\n\n")
			b.WriteString(d.Explanation)
		}
		if d.ConfidenceDetected > 0 && d.ConfidenceRequired > 0 {
			fmt.Fprintf(&b, "\n\n検出された信頼度: %g%%\n必要な信頼度: %g%%", d.ConfidenceDetected, d.ConfidenceRequired)
		}
		if d.Recommendation != "" {
			b.WriteString("\n\n")
			b.WriteString(d.Recommendation)
		}
	}
	return b.String()
}

// Describe は予測要求の任意のエラーを表示用の文言にする
func Describe(err error) string {
	var serr *petapi.ServerError
	if errors.As(err, &serr) {
		return ErrorText(serr)
	}

	var perr *petapi.ParseError
	if errors.As(err, &perr) {
		return "予測に失敗しました: サーバーの応答が不正です"
	}
	if petapi.IsTransport(err) {
		return "予測に失敗しました: サーバーに接続できません"
	}
	return fmt.Sprintf("予測に失敗しました: %v", err)
}
