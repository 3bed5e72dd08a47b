package petapi

// UploadResult は生体画像アップロードの結果
type UploadResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ImageID         int    `json:"imagen_id"`
	ImagesCount     int    `json:"images_count"`
	ImagesRemaining int    `json:"images_remaining"`
	LimitReached    bool   `json:"limit_reached"`
}

// Stats はペットの生体登録の状況
type Stats struct {
	ImagesCount int     `json:"images_count"`
	Trained     bool    `json:"biometria_entrenada"`
	Confidence  float64 `json:"confianza"`
}

// TrainResult は認識モデルの学習結果
type TrainResult struct {
	ModelID int     `json:"modelo_id"`
	Seconds float64 `json:"tiempo"`
	Message string  `json:"message"`
}

// RecognitionMatch は照合の結果
type RecognitionMatch struct {
	Success        bool    `json:"exito"`
	Confidence     float64 `json:"confianza"`
	ProcessingTime float64 `json:"tiempo_procesamiento"`
	Message        string  `json:"mensaje"`
}

// Pet は照合で見つかったペット
type Pet struct {
	ID   int    `json:"id"`
	UUID string `json:"uuid"`
	Name string `json:"nombre"`
}

// Recognition はペット照合のレスポンス
type Recognition struct {
	Match RecognitionMatch `json:"reconocimiento"`
	Pet   *Pet             `json:"mascota,omitempty"`
	Owner map[string]any   `json:"propietario,omitempty"`
	Lost  bool             `json:"mascota_perdida"`
}

// Identified はペットが特定できたかを返す
func (r *Recognition) Identified() bool {
	return r.Match.Success && r.Pet != nil
}

// Prediction は1つの属性（品種・成長段階・体型）の予測
type Prediction struct {
	Predicted            string  `json:"predicted"`
	DisplayName          string  `json:"display_name"`
	Confidence           float64 `json:"confidence"`
	ConfidencePercentage float64 `json:"confidence_percentage"`
	ConfidenceLevel      string  `json:"confidence_level"`
}

// 予測される属性
const (
	AttributeBreed         = "breed"
	AttributeStage         = "stage"
	AttributeBodyCondition = "body_condition"
)

// PredictResult はAI予測のレスポンス
type PredictResult struct {
	Predictions map[string]Prediction `json:"predictions"`
}

// NotificationCount は未読通知の件数
type NotificationCount struct {
	Count            int  `json:"count"`
	HasNotifications bool `json:"has_notifications"`
}
