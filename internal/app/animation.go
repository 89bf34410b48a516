package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"familyart/internal/util"
	"familyart/pkg/ai"
	"familyart/pkg/domain"
)

const defaultAnimationPrompt = "Bring this coloring book artwork to life with gentle, playful motion."

// How many polls go by between intermediate status writes.
const pollPersistEvery = 3

// AnimationResult is returned to the client once the job reaches a
// terminal state, or immediately on submission failure.
type AnimationResult struct {
	Success            bool   `json:"success"`
	TaskID             string `json:"taskId"`
	DownloadURL        string `json:"downloadUrl,omitempty"`
	CloudinaryVideoURL string `json:"cloudinaryVideoUrl,omitempty"`
	CloudinaryImageURL string `json:"cloudinaryImageUrl,omitempty"`
	Error              string `json:"error,omitempty"`
}

// GenerateAnimation runs the artwork-to-video workflow synchronously:
// persist the task, submit the provider job, poll to a terminal state,
// re-host the outputs, and record the final state. The poll runs on a
// detached context so a client disconnect does not abort the provider
// job or the store writes.
func (a *App) GenerateAnimation(ctx context.Context, imageRef, prompt, familyArtID string) (AnimationResult, error) {
	logger := util.LoggerFromContext(ctx)
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultAnimationPrompt
	}
	taskID := fmt.Sprintf("kling-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	now := time.Now().UTC()
	task := domain.AnimationTask{
		TaskID:      taskID,
		Status:      domain.AnimationQueuing,
		ImageURL:    imageRef,
		Prompt:      prompt,
		Model:       a.video.Model(),
		Duration:    a.videoDuration,
		Resolution:  a.videoResolution,
		FamilyArtID: familyArtID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveAnimationTask(task); err != nil {
		return AnimationResult{}, fmt.Errorf("save animation task: %w", err)
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.pollBudget)
	defer cancel()

	created, err := a.video.CreateTask(workCtx, imageRef, prompt, a.videoDuration, a.videoMode)
	if err != nil {
		task.Status = domain.AnimationFailed
		task.ErrorMessage = err.Error()
		if updateErr := a.store.UpdateAnimationTask(task); updateErr != nil {
			logger.Error("record submission failure", "task_id", taskID, "err", updateErr)
		}
		return AnimationResult{Success: false, TaskID: taskID, Error: err.Error()}, nil
	}
	task.ProviderMeta = map[string]string{"providerId": created.ProviderID}
	logger.Info("animation job submitted", "task_id", taskID, "provider_id", created.ProviderID)

	final, err := a.pollAnimation(workCtx, &task, created)
	if err != nil {
		task.Status = domain.AnimationFailed
		task.ErrorMessage = err.Error()
		if updateErr := a.store.UpdateAnimationTask(task); updateErr != nil {
			logger.Error("record poll failure", "task_id", taskID, "err", updateErr)
		}
		return AnimationResult{Success: false, TaskID: taskID, Error: err.Error()}, nil
	}
	if final.Status == ai.TaskFailed {
		task.Status = domain.AnimationFailed
		task.ErrorMessage = final.Message
		if updateErr := a.store.UpdateAnimationTask(task); updateErr != nil {
			logger.Error("record provider failure", "task_id", taskID, "err", updateErr)
		}
		return AnimationResult{Success: false, TaskID: taskID, Error: final.Message}, nil
	}

	task.Status = domain.AnimationSuccess
	task.DownloadURL = final.VideoURL
	if final.Message != "" {
		task.ProviderMeta["statusMessage"] = final.Message
	}
	a.rehostOutputs(workCtx, &task, final.VideoURL, imageRef)
	if err := a.store.UpdateAnimationTask(task); err != nil {
		return AnimationResult{}, fmt.Errorf("save animation result: %w", err)
	}
	logger.Info("animation completed", "task_id", taskID, "video_url", task.CloudinaryVideoURL)
	return AnimationResult{
		Success:            true,
		TaskID:             taskID,
		DownloadURL:        task.DownloadURL,
		CloudinaryVideoURL: task.CloudinaryVideoURL,
		CloudinaryImageURL: task.CloudinaryImageURL,
	}, nil
}

// pollAnimation waits for the provider job to reach a terminal state,
// persisting intermediate status every few polls as a progress signal
// for concurrent readers.
func (a *App) pollAnimation(ctx context.Context, task *domain.AnimationTask, created ai.VideoTask) (ai.VideoTask, error) {
	current := created
	polls := 0
	for {
		status := mapProviderStatus(current.Status)
		if status.Terminal() {
			return current, nil
		}
		if polls > 0 && polls%pollPersistEvery == 0 && task.Status != status {
			task.Status = status
			if err := a.store.UpdateAnimationTask(*task); err != nil {
				util.LoggerFromContext(ctx).Warn("persist intermediate status", "task_id", task.TaskID, "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return current, fmt.Errorf("animation timed out after %s", a.pollBudget)
		case <-time.After(a.pollInterval):
		}
		next, err := a.video.GetTask(ctx, created.ProviderID)
		if err != nil {
			return current, fmt.Errorf("poll animation status: %w", err)
		}
		current = next
		polls++
	}
}

// rehostOutputs copies the provider video (and the source image when not
// already hosted) into object storage. Failures degrade to the provider
// URLs with a diagnostic note on the task.
func (a *App) rehostOutputs(ctx context.Context, task *domain.AnimationTask, videoURL, imageRef string) {
	var hostedVideo, hostedImage string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := a.media.StoreVideo(gctx, videoKey(task.TaskID), videoURL)
		if err != nil {
			return fmt.Errorf("video upload: %w", err)
		}
		hostedVideo = url
		return nil
	})
	g.Go(func() error {
		url, err := a.media.StoreImage(gctx, artworkKey(task.TaskID), imageRef)
		if err != nil {
			return fmt.Errorf("image upload: %w", err)
		}
		hostedImage = url
		return nil
	})
	if err := g.Wait(); err != nil {
		note := fmt.Sprintf("storage degraded: %v", err)
		if task.ErrorMessage != "" {
			note = task.ErrorMessage + "; " + note
		}
		task.ErrorMessage = note
	}
	if hostedVideo != "" {
		task.CloudinaryVideoURL = hostedVideo
	} else {
		task.CloudinaryVideoURL = videoURL
	}
	if hostedImage != "" {
		task.CloudinaryImageURL = hostedImage
	}
}

func mapProviderStatus(providerStatus string) domain.AnimationStatus {
	switch providerStatus {
	case ai.TaskSucceed:
		return domain.AnimationSuccess
	case ai.TaskFailed:
		return domain.AnimationFailed
	case ai.TaskProcessing:
		return domain.AnimationProcessing
	default:
		return domain.AnimationQueuing
	}
}

func videoKey(taskID string) string {
	return fmt.Sprintf("videos/%s.mp4", taskID)
}

func artworkKey(taskID string) string {
	return fmt.Sprintf("artwork/%s.png", taskID)
}
