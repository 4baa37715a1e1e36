package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
)

const viewerWriteTimeout = 5 * time.Second

// ViewerRepository хранит websocket соединения локального UI, которым уходят снимки сессии
type ViewerRepository interface {
	Add(id uuid.UUID, conn *websocket.Conn)
	Remove(id uuid.UUID)

	Write(id uuid.UUID, payload any) error
	Broadcast(payload any)
	Connected() []uuid.UUID
}

type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type viewerRepository struct {
	// viewers хранит map[viewer_id]*ws.conn
	viewers map[uuid.UUID]*safeWS

	mu sync.RWMutex
}

func NewViewerRepository() ViewerRepository {
	return &viewerRepository{
		viewers: make(map[uuid.UUID]*safeWS, 4),
	}
}

func (v *viewerRepository) Add(id uuid.UUID, conn *websocket.Conn) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.viewers[id]; !exists {
		metric.IncrementWSActiveViewers()
	}

	v.viewers[id] = &safeWS{conn: conn}
}

func (v *viewerRepository) Remove(id uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.viewers[id]; exists {
		delete(v.viewers, id)

		metric.DecrementWSActiveViewers()
	}
}

func (v *viewerRepository) Write(id uuid.UUID, payload any) error {
	ws, ok := v.get(id)
	if !ok {
		return fmt.Errorf("viewer %s not connected", id)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.conn.SetWriteDeadline(time.Now().Add(viewerWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := ws.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("write to viewer: %w", err)
	}

	return nil
}

// Broadcast пишет всем; зрителя с ошибкой записи отключает
func (v *viewerRepository) Broadcast(payload any) {
	for _, id := range v.Connected() {
		if err := v.Write(id, payload); err != nil {
			slog.Warn(
				"broadcast to viewer",
				slog.Any(constant.Error, err),
				slog.String(constant.Viewer, id.String()),
			)

			v.Remove(id)
		}
	}
}

func (v *viewerRepository) get(id uuid.UUID) (*safeWS, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ws, ok := v.viewers[id]
	return ws, ok
}

func (v *viewerRepository) Connected() []uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(v.viewers))

	for id := range v.viewers {
		ids = append(ids, id)
	}

	return ids
}
