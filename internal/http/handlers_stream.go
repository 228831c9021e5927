package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"vidfetch/internal/config"
	"vidfetch/internal/jobs"
	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

// streamEvent is the wire shape of one SSE data payload. Progress
// updates carry the record fields; idle heartbeats carry only ping.
type streamEvent struct {
	Status   model.Status `json:"status,omitempty"`
	Progress *float64     `json:"progress,omitempty"`
	Error    *string      `json:"error,omitempty"`
	Log      string       `json:"log,omitempty"`
	Ping     *float64     `json:"ping,omitempty"`
}

func eventFrom(rec model.JobRecord, logLine string) streamEvent {
	p := rec.Progress
	return streamEvent{
		Status:   rec.Status,
		Progress: &p,
		Error:    rec.Error,
		Log:      logLine,
	}
}

func writeEvent(w *bufio.Writer, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// downloadEventsHandler streams state changes for one job as SSE. The
// consumer blocks only on its own bounded queue: on heartbeat timeout
// it gets a ping (keeping idle-intolerant proxies from closing the
// stream), and the stream ends after the first terminal event.
func downloadEventsHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	st := c.Locals("store").(*store.Store)
	bus := c.Locals("bus").(*jobs.Broadcaster)
	logger, _ := c.Locals("logger").(*slog.Logger)

	id := c.Params("id")

	// Subscribe before taking the snapshot so no update can slip
	// between the initial event and the first queue read. An update
	// landing in that window shows up twice (snapshot and queue),
	// which is harmless; the reverse order can lose the terminal
	// event entirely.
	sub := bus.Subscribe(id)
	rec, ok := st.Get(id)
	if !ok {
		bus.Unsubscribe(sub)
		return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "download not found",
		})
	}

	heartbeat := time.Duration(cfg.Stream.HeartbeatSeconds) * time.Second

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer bus.Unsubscribe(sub)

		if err := writeEvent(w, eventFrom(rec, "initial state")); err != nil {
			return
		}
		if rec.Status.IsTerminal() {
			return
		}

		for {
			select {
			case update, open := <-sub.C():
				if !open {
					// Stream torn down after the terminal grace
					// period or by eviction.
					return
				}
				logLine := fmt.Sprintf("state update, progress: %.1f%%", update.Progress)
				if err := writeEvent(w, eventFrom(update, logLine)); err != nil {
					return
				}
				if update.Status.IsTerminal() {
					if logger != nil {
						logger.Info("stream closing on terminal state", "id", id, "status", update.Status)
					}
					return
				}

			case <-time.After(heartbeat):
				ts := float64(time.Now().UnixMilli()) / 1000
				if err := writeEvent(w, streamEvent{Ping: &ts, Log: "queue timeout ping"}); err != nil {
					return
				}
			}
		}
	}))

	return nil
}
