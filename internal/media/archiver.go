package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const maxMediaBytes = 32 << 20

// Archiver copies inbound media attachments into S3 under a
// tenant/conversation/message key. Archival is best-effort: failures are
// logged and never affect message ingestion.
type Archiver struct {
	bucket     string
	s3Client   S3API
	httpClient *http.Client
	logger     *logging.Logger
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewArchiver creates an Archiver. If bucket is empty, all operations are
// no-ops.
func NewArchiver(s3Client S3API, bucket string, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{
		bucket:     bucket,
		s3Client:   s3Client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		timeout:    45 * time.Second,
	}
}

// WithHTTPClient overrides the download client, used by tests.
func (a *Archiver) WithHTTPClient(hc *http.Client) *Archiver {
	a.httpClient = hc
	return a
}

// Enabled reports whether archival is configured.
func (a *Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// ArchiveAsync downloads the media and stores it in the background.
func (a *Archiver) ArchiveAsync(tenantID string, conversationID, messageID uuid.UUID, mediaURL, contentType string) {
	if !a.Enabled() {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.Archive(ctx, tenantID, conversationID, messageID, mediaURL, contentType); err != nil {
			a.logger.Warn("media archival failed",
				"tenant_id", tenantID,
				"message_id", messageID,
				"error", err,
			)
		}
	}()
}

// Archive downloads one attachment and writes it to S3.
func (a *Archiver) Archive(ctx context.Context, tenantID string, conversationID, messageID uuid.UUID, mediaURL, contentType string) error {
	if !a.Enabled() {
		return nil
	}
	// Provider media ids ("media:<id>") need an authorized Graph fetch the
	// engine does not hold credentials for at this point; skip them.
	if strings.HasPrefix(mediaURL, "media:") {
		a.logger.Debug("skipping provider-held media", "tenant_id", tenantID, "message_id", messageID)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("media: build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("media: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: download returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxMediaBytes)
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	key := objectKey(tenantID, conversationID, messageID, contentType)
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("media: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived media attachment",
		"tenant_id", tenantID,
		"conversation_id", conversationID,
		"message_id", messageID,
		"s3_key", key,
	)
	return nil
}

// Wait blocks until in-flight archival goroutines finish, used on shutdown
// and in tests.
func (a *Archiver) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}

func objectKey(tenantID string, conversationID, messageID uuid.UUID, contentType string) string {
	return path.Join("media", "v1", tenantID, conversationID.String(), messageID.String()+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
