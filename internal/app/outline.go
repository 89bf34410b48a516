package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"familyart/internal/util"
	"familyart/pkg/domain"
	"familyart/pkg/storage"
)

// Queue numbering starts one above the base so that the first generated
// submission receives 10001. The save path historically started at 10000
// and keeps doing so.
const (
	queueStartGenerate = 10001
	queueStartSave     = 10000
)

const maxPhotoBytes = 32 << 20

var photoFetchClient = &http.Client{Timeout: 60 * time.Second}

// OutlineResult is returned to the client after a successful generation.
type OutlineResult struct {
	SubmissionID string `json:"submissionId"`
	QueueNumber  string `json:"queueNumber"`
	OutlineURL   string `json:"outlineUrl"`
}

// GenerateOutline runs the photo-to-coloring-outline workflow: assign the
// next queue number, host the photo, call the image model, persist the
// submission. Nothing is persisted when generation fails.
func (a *App) GenerateOutline(ctx context.Context, photoRef, prompt string) (OutlineResult, error) {
	logger := util.LoggerFromContext(ctx)
	queueNumber := a.nextQueueNumber(ctx, queueStartGenerate)

	photoURL := photoRef
	if hosted, err := a.media.StoreImage(ctx, photoKey(queueNumber), photoRef); err != nil {
		logger.Warn("photo upload failed, keeping original reference", "queue_number", queueNumber, "err", err)
	} else {
		photoURL = hosted
	}

	imageData, mimeType, err := loadImage(ctx, photoRef)
	if err != nil {
		return OutlineResult{}, fmt.Errorf("read photo: %w", err)
	}
	generated, err := a.outline.GenerateOutline(ctx, imageData, mimeType, prompt)
	if err != nil {
		return OutlineResult{}, fmt.Errorf("generate outline: %w", err)
	}
	if generated.Diagnostics != "" {
		logger.Debug("outline generation diagnostics", "queue_number", queueNumber, "text", generated.Diagnostics)
	}

	outlineURL, err := storage.PutBytes(ctx, a.media.Objects(), outlineKey(queueNumber), generated.ImageData, generated.MimeType)
	if err != nil {
		logger.Warn("outline upload failed, falling back to data url", "queue_number", queueNumber, "err", err)
		outlineURL = fmt.Sprintf("data:%s;base64,%s", generated.MimeType, base64.StdEncoding.EncodeToString(generated.ImageData))
	}

	sub := domain.PhotoSubmission{
		ID:                  util.NewID(),
		QueueNumber:         queueNumber,
		OriginalPhotoURL:    photoURL,
		GeneratedOutlineURL: outlineURL,
		Status:              domain.SubmissionCompleted,
		CreatedAt:           time.Now().UTC(),
	}
	if err := a.store.SaveSubmission(sub); err != nil {
		return OutlineResult{}, fmt.Errorf("save submission: %w", err)
	}
	logger.Info("outline generated", "queue_number", queueNumber, "submission_id", sub.ID)
	return OutlineResult{
		SubmissionID: sub.ID,
		QueueNumber:  queueNumber,
		OutlineURL:   outlineURL,
	}, nil
}

// SaveSubmission persists a caller-supplied photo/outline pair without
// invoking the image model.
func (a *App) SaveSubmission(ctx context.Context, photoURL, outlineURL string) (OutlineResult, error) {
	queueNumber := a.nextQueueNumber(ctx, queueStartSave)
	sub := domain.PhotoSubmission{
		ID:                  util.NewID(),
		QueueNumber:         queueNumber,
		OriginalPhotoURL:    photoURL,
		GeneratedOutlineURL: outlineURL,
		Status:              domain.SubmissionCompleted,
		CreatedAt:           time.Now().UTC(),
	}
	if err := a.store.SaveSubmission(sub); err != nil {
		return OutlineResult{}, fmt.Errorf("save submission: %w", err)
	}
	return OutlineResult{
		SubmissionID: sub.ID,
		QueueNumber:  queueNumber,
		OutlineURL:   outlineURL,
	}, nil
}

// nextQueueNumber increments the highest stored number, starting at start
// on an empty store. When the store read fails it synthesizes a
// time-derived number; that fallback can collide and is logged.
func (a *App) nextQueueNumber(ctx context.Context, start int) string {
	max, found, err := a.store.MaxQueueNumber()
	if err != nil {
		fallback := int(time.Now().Unix()%90000) + 10000
		util.LoggerFromContext(ctx).Warn("queue number read failed, using time-derived fallback", "fallback", fallback, "err", err)
		return fmt.Sprintf("%05d", fallback)
	}
	next := start
	if found && max+1 > start {
		next = max + 1
	}
	return fmt.Sprintf("%05d", next)
}

func photoKey(queueNumber string) string {
	return fmt.Sprintf("photos/%s-%s.png", queueNumber, util.NewID())
}

func outlineKey(queueNumber string) string {
	return fmt.Sprintf("outlines/%s-%s.png", queueNumber, util.NewID())
}

// loadImage resolves an image reference (data URL or remote URL) to raw
// bytes for the model call.
func loadImage(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return storage.DecodeDataURL(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := photoFetchClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
