package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// InboundMessage is one message delivered by the webhook.
type InboundMessage struct {
	ExternalID      string
	GroupExternalID string
	GroupName       string
	SenderName      string
	SenderPhone     string
	Body            string
	MediaType       string
	MediaURL        string
	IsForwarded     bool
	IsReply         bool
	Timestamp       time.Time
}

// ArchiveUsecase deduplicates and persists inbound messages. Archival is
// idempotent on the external message id: re-delivery, including concurrent
// re-delivery, yields exactly one stored row.
type ArchiveUsecase struct {
	messageRepo repo.MessageRepo
	groupRepo   repo.GroupRepo
	media       repo.MediaFetcher
	logger      *slog.Logger
}

// NewArchiveUsecase creates a new archive usecase
func NewArchiveUsecase(messageRepo repo.MessageRepo, groupRepo repo.GroupRepo, media repo.MediaFetcher, logger *slog.Logger) *ArchiveUsecase {
	return &ArchiveUsecase{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		media:       media,
		logger:      logger,
	}
}

// Archive stores an inbound message. Returns the stored record, or nil when
// the external id was already archived. A second writer that loses the
// uniqueness race gets the same nil, no error.
func (uc *ArchiveUsecase) Archive(ctx context.Context, in *InboundMessage) (*domain.RawMessage, error) {
	group, err := uc.groupRepo.GetOrCreate(ctx, in.GroupExternalID, in.GroupName)
	if err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := &domain.RawMessage{
		ExternalID:  in.ExternalID,
		GroupID:     group.ID,
		SenderName:  in.SenderName,
		SenderPhone: in.SenderPhone,
		Body:        in.Body,
		MediaType:   in.MediaType,
		MediaURL:    in.MediaURL,
		IsForwarded: in.IsForwarded,
		IsReply:     in.IsReply,
		ReceivedAt:  ts,
	}

	if err := uc.messageRepo.Insert(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			uc.logger.Debug("duplicate message suppressed", "external_id", in.ExternalID)
			return nil, nil
		}
		return nil, err
	}

	// Media download must not fail the archive; a failure is logged and the
	// message stays eligible for the retry pass.
	if msg.HasMedia() {
		go uc.fetchMedia(msg.ID, msg.MediaURL, msg.MediaType)
	}

	return msg, nil
}

func (uc *ArchiveUsecase) fetchMedia(msgID int64, url, mediaType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	path, err := uc.media.Fetch(ctx, url, mediaType)
	if err != nil {
		uc.logger.Warn("media fetch failed", "message_id", msgID, "error", err)
		return
	}
	if err := uc.messageRepo.SetMediaPath(ctx, msgID, path); err != nil {
		uc.logger.Warn("failed to record media path", "message_id", msgID, "error", err)
	}
}

// RetryMediaFetch re-attempts outstanding media downloads. Returns how many
// downloads succeeded.
func (uc *ArchiveUsecase) RetryMediaFetch(ctx context.Context, limit int) (int, error) {
	pending, err := uc.messageRepo.ListPendingMedia(ctx, limit)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for _, msg := range pending {
		path, err := uc.media.Fetch(ctx, msg.MediaURL, msg.MediaType)
		if err != nil {
			uc.logger.Warn("media retry failed", "message_id", msg.ID, "error", err)
			continue
		}
		if err := uc.messageRepo.SetMediaPath(ctx, msg.ID, path); err != nil {
			uc.logger.Warn("failed to record media path", "message_id", msg.ID, "error", err)
			continue
		}
		fetched++
	}
	return fetched, nil
}
