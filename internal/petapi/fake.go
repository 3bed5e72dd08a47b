package petapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeServer はテスト用のペットIDサーバー
// 生体画像の上限や失敗をサーバー側と同じJSON形式で再現する
type FakeServer struct {
	*httptest.Server

	mu            sync.Mutex
	limit         int
	counts        map[string]int
	failUploads   int
	uploads       int
	notifications int
	recognized    bool
	predictions   map[string]Prediction
	predictErr    map[string]any
	lastHeader    http.Header
}

// NewFakeServer は指定した上限で新しいFakeServerを起動する
func NewFakeServer(limit int) *FakeServer {
	f := &FakeServer{
		limit:  limit,
		counts: make(map[string]int),
		predictions: map[string]Prediction{
			AttributeBreed: {Predicted: "labrador", DisplayName: "Labrador Retriever", Confidence: 0.87, ConfidencePercentage: 87.0, ConfidenceLevel: "high"},
			AttributeStage: {Predicted: "adulto", DisplayName: "Adulto", Confidence: 0.62, ConfidencePercentage: 62.0, ConfidenceLevel: "medium"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+pathUploadBiometric, f.handleUpload)
	mux.HandleFunc("GET /mascota/{id}/stats/", f.handleStats)
	mux.HandleFunc("POST /mascota/train-model/{id}/", f.handleTrain)
	mux.HandleFunc("POST "+pathRecognize, f.handleRecognize)
	mux.HandleFunc("POST "+pathPredict, f.handlePredict)
	mux.HandleFunc("GET "+pathNotificationCount, f.handleNotifications)

	f.Server = httptest.NewServer(f.record(mux))
	return f
}

// SetCount はペットの登録済み画像数を設定する
func (f *FakeServer) SetCount(petID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[petID] = count
}

// Count はペットの登録済み画像数を返す
func (f *FakeServer) Count(petID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[petID]
}

// FailUploads は次の n 回のアップロードを500エラーにする
func (f *FakeServer) FailUploads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUploads = n
}

// Uploads はアップロード要求の回数を返す
func (f *FakeServer) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// SetNotifications は未読通知の件数を設定する
func (f *FakeServer) SetNotifications(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = n
}

// SetRecognized は照合が成功するかを設定する
func (f *FakeServer) SetRecognized(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recognized = ok
}

// SetPredictError は予測のエラーレスポンスを設定する。nil で解除する
func (f *FakeServer) SetPredictError(body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictErr = body
}

// LastHeader は最後に受け取ったリクエストのヘッダーを返す
func (f *FakeServer) LastHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHeader.Clone()
}

func (f *FakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastHeader = r.Header.Clone()
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *FakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	petID := r.PostFormValue("mascota_id")
	data := r.PostFormValue("imagen_base64")
	if petID == "" || data == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Faltan datos requeridos"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++

	if f.failUploads > 0 {
		f.failUploads--
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "error interno"})
		return
	}

	current := f.counts[petID]
	if current >= f.limit {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"error":         "Límite alcanzado",
			"images_count":  current,
			"limit_reached": true,
		})
		return
	}

	if _, payload, ok := strings.Cut(data, ","); ok {
		data = payload
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil || r.PostFormValue("tipo") != biometricType {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "imagen inválida"})
		return
	}

	current++
	f.counts[petID] = current
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "Imagen subida correctamente",
		"imagen_id":        f.uploads,
		"images_count":     current,
		"images_remaining": max(0, f.limit-current),
		"limit_reached":    current >= f.limit,
	})
}

func (f *FakeServer) handleStats(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	count := f.counts[r.PathValue("id")]
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"images_count":        count,
		"biometria_entrenada": false,
		"confianza":           0,
	})
}

func (f *FakeServer) handleTrain(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	count := f.counts[r.PathValue("id")]
	f.mu.Unlock()

	if count < f.limit {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Se necesitan al menos 20 imágenes para entrenar"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "modelo_id": 7, "tiempo": 1.25, "message": "Modelo entrenado correctamente"})
}

func (f *FakeServer) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("imagen_base64") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "No se proporcionó una imagen"})
		return
	}

	f.mu.Lock()
	recognized := f.recognized
	f.mu.Unlock()

	if !recognized {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"reconocimiento": map[string]any{
				"exito": false, "confianza": 0.31, "tiempo_procesamiento": 0.4,
				"mensaje": "No se pudo identificar la mascota con suficiente confianza",
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"reconocimiento": map[string]any{
			"exito": true, "confianza": 0.93, "tiempo_procesamiento": 0.5, "mensaje": "¡Mascota identificada exitosamente!",
		},
		"mascota":         map[string]any{"id": 1, "uuid": "2b1f0c3e-5d2a-4f7e-9a51-1f0c3e5d2a4f", "nombre": "Luna"},
		"propietario":     map[string]any{"nombre": "Ana"},
		"mascota_perdida": true,
	})
}

func (f *FakeServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No se proporcionó imagen"})
		return
	}
	_ = file.Close()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "El archivo debe ser una imagen"})
		return
	}

	f.mu.Lock()
	predictErr := f.predictErr
	predictions := f.predictions
	f.mu.Unlock()

	if predictErr != nil {
		writeJSON(w, http.StatusOK, predictErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "predictions": predictions})
}

func (f *FakeServer) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	n := f.notifications
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"count": n, "has_notifications": n > 0})
}
