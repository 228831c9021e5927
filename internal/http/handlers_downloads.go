package http

import (
	"context"
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"vidfetch/internal/downloader"
	"vidfetch/internal/jobs"
	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

type SubmitRequest struct {
	URL      string            `json:"url"`
	Format   string            `json:"format,omitempty"`
	Quality  string            `json:"quality,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type SubmitResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	ID      string     `json:"id,omitempty"`
	Job     *JobDetail `json:"job,omitempty"`
}

type JobDetail struct {
	ID         string            `json:"id"`
	Status     model.Status      `json:"status"`
	Progress   float64           `json:"progress"`
	URL        string            `json:"url"`
	FilePath   *string           `json:"filePath,omitempty"`
	Error      *string           `json:"error,omitempty"`
	CreatedAt  float64           `json:"createdAt"`
	UpdatedAt  float64           `json:"updatedAt"`
	RetryCount int               `json:"retryCount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type JobDetailResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Job     *JobDetail `json:"job,omitempty"`
}

type CancelResponse struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Status  model.Status `json:"status,omitempty"`
}

func detailFrom(rec model.JobRecord) *JobDetail {
	return &JobDetail{
		ID:         rec.ID,
		Status:     rec.Status,
		Progress:   rec.Progress,
		URL:        rec.URL,
		FilePath:   rec.FilePath,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		RetryCount: rec.RetryCount,
		Metadata:   rec.Metadata,
	}
}

// submitDownloadHandler accepts a download request, creates the
// pending record, and starts the download in the background.
func submitDownloadHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	dl := c.Locals("downloader").(*downloader.Downloader)

	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "url is required",
		})
	}
	if err := downloader.ValidateURL(req.URL); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitResponse{
			Success: false,
			Code:    "INVALID_URL",
			Error:   err.Error(),
		})
	}

	metadata := req.Metadata
	if req.Format != "" || req.Quality != "" {
		if metadata == nil {
			metadata = make(map[string]string)
		}
		if req.Format != "" {
			metadata["format"] = req.Format
		}
		if req.Quality != "" {
			metadata["quality"] = req.Quality
		}
	}

	id := uuid.New().String()
	rec, err := st.Create(id, req.URL, metadata)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(SubmitResponse{
			Success: false,
			Code:    "SUBMIT_FAILED",
			Error:   err.Error(),
		})
	}

	go dl.Run(context.Background(), id, req.URL)

	return c.Status(fiber.StatusAccepted).JSON(SubmitResponse{
		Success: true,
		ID:      id,
		Job:     detailFrom(rec),
	})
}

func downloadStatusHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	id := c.Params("id")
	rec, ok := st.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "download not found",
		})
	}

	return c.JSON(JobDetailResponse{Success: true, Job: detailFrom(rec)})
}

// cancelDownloadHandler is idempotent: it succeeds whether or not the
// job was still cancellable, and returns 404 only when the id never
// existed.
func cancelDownloadHandler(c *fiber.Ctx) error {
	coord := c.Locals("coordinator").(*jobs.Coordinator)

	id := c.Params("id")
	rec, err := coord.Cancel(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(CancelResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "download not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(CancelResponse{
			Success: false,
			Code:    "CANCEL_FAILED",
			Error:   err.Error(),
		})
	}

	return c.JSON(CancelResponse{Success: true, Status: rec.Status})
}

// downloadFileHandler serves the completed artifact.
func downloadFileHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	id := c.Params("id")
	rec, ok := st.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "download not found",
		})
	}
	if rec.Status != model.StatusCompleted || rec.FilePath == nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "NOT_COMPLETED",
			Error:   "download is not completed",
		})
	}
	if _, err := os.Stat(*rec.FilePath); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
			Success: false,
			Code:    "FILE_GONE",
			Error:   "artifact no longer exists",
		})
	}

	return c.Download(*rec.FilePath)
}
