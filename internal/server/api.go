package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// streamQueueSize bounds the notifications buffered per stream client.
const streamQueueSize = 256

// ErrorResponse is the body of failed API requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API serves timeline inspection and notification streaming.
type API struct {
	registry   *registry.Registry
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

// NewAPI creates the timeline API.
func NewAPI(reg *registry.Registry, dispatcher *notify.Dispatcher, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{registry: reg, dispatcher: dispatcher, logger: logger}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /timelines", a.list)
	mux.HandleFunc("GET /timelines/{name}", a.describe)
	mux.HandleFunc("GET /timelines/{name}/stream", a.stream)
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Info(), a.logger)
}

func (a *API) describe(w http.ResponseWriter, r *http.Request) {
	info, err := a.registry.Describe(r.PathValue("name"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info, a.logger)
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, apperrors.ErrUnknownTimeline) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()}, a.logger)
}

// parseKinds reads a comma separated kinds query value.
func parseKinds(raw string) ([]timeline.EventKind, error) {
	if raw == "" {
		return nil, nil
	}
	var kinds []timeline.EventKind
	for _, s := range strings.Split(raw, ",") {
		k, err := timeline.ParseEventKind(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// stream upgrades to a websocket and forwards the timeline's notifications
// as JSON until either side goes away. Notifications that arrive while the
// client is behind are dropped.
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := a.registry.Describe(name); err != nil {
		a.fail(w, err)
		return
	}
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()}, a.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket accept failed", zap.String("timeline", name), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// Reads are not expected; CloseRead cancels ctx when the client leaves.
	ctx := conn.CloseRead(r.Context())

	events := make(chan timeline.Event, streamQueueSize)
	opts := []notify.SubscribeOption{
		notify.WithTimelines(name),
		notify.WithQueueSize(streamQueueSize),
		notify.WithPolicy(notify.DropNew),
	}
	if len(kinds) > 0 {
		opts = append(opts, notify.WithKinds(kinds...))
	}
	id, err := a.dispatcher.Subscribe(func(e timeline.Event) {
		select {
		case events <- e:
		default:
		}
	}, opts...)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer a.dispatcher.Unsubscribe(id)

	logger := a.logger.With(zap.String("timeline", name), zap.String("subscription", id))
	logger.Debug("stream client connected")

	if err := forward(ctx, conn, events); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("stream closed", zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func forward(ctx context.Context, conn *websocket.Conn, events <-chan timeline.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			n := event.Notification{
				Timeline:  e.Timeline,
				Kind:      e.Kind.String(),
				Timestamp: float64(e.Timestamp),
				Size:      e.Size,
				Evicted:   e.Evicted,
			}
			if err := wsjson.Write(ctx, conn, n); err != nil {
				return err
			}
		}
	}
}
