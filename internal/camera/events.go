package camera

import (
	"errors"
	"sync"
	"time"
)

// EventType はセッションイベントの種類
type EventType string

const (
	EventStateChanged        EventType = "state_changed"
	EventFrameCaptured       EventType = "frame_captured"
	EventAutoCaptureStarted  EventType = "auto_capture_started"
	EventAutoCaptureFinished EventType = "auto_capture_finished"
	EventError               EventType = "error"
)

// Event はセッションから通知されるイベント
type Event struct {
	Type  EventType          `json:"type"`
	From  Status             `json:"from,omitempty"`
	To    Status             `json:"to,omitempty"`
	Err   error              `json:"-"`
	Frame *Frame             `json:"frame,omitempty"`
	Auto  *AutoCaptureResult `json:"auto,omitempty"`
	Time  time.Time          `json:"time"`
}

// ErrorMessage はイベントに付随するエラーの文字列を返す
func (e Event) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	var merr *MediaError
	if errors.As(e.Err, &merr) {
		return merr.Message()
	}
	return e.Err.Error()
}

// eventHub はイベントを購読者に配信する
type eventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

// subscribe は購読チャンネルと解除関数を返す
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish はイベントを配信する。購読者のバッファが一杯の場合は古いイベントを破棄する
func (h *eventHub) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
