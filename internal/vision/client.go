// Package vision is the remote-API extraction engine backed by Google Cloud Vision.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

type Config struct {
	// CredentialsJSON is either a service-account JSON document or a path to one.
	CredentialsJSON string
	Project         string // quota project, optional
}

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Engine implements extract.Engine over the Cloud Vision document text detector.
// The underlying client is safe for concurrent use.
type Engine struct {
	client   *visionapi.ImageAnnotatorClient
	annotate annotateFunc
	log      *slog.Logger
}

func NewEngine(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	creds := strings.TrimSpace(cfg.CredentialsJSON)
	if creds == "" {
		return nil, common.EngineUnavailableError("gcv engine requires GCP_CREDENTIALS_JSON")
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, common.EngineUnavailableError("gcv engine requires GCP_PROJECT")
	}

	var opts []option.ClientOption
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	opts = append(opts, option.WithQuotaProject(cfg.Project))

	client, err := visionapi.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Vision client: %w", err)
	}
	logger.Info("ocr.engine.ready", "engine", constants.EngineVision, "quota_project", cfg.Project)

	return &Engine{
		client: client,
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return client.BatchAnnotateImages(ctx, req)
		},
		log: logger,
	}, nil
}

func (e *Engine) Name() string { return string(constants.EngineVision) }

// Extract sends the image at path for document text detection and walks the
// returned page hierarchy down to words.
func (e *Engine) Extract(ctx context.Context, path string) ([]extract.RawDetection, time.Duration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, extract.Failure(e.Name(), fmt.Errorf("read image: %w", err))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	}

	start := time.Now()
	resp, err := e.annotate(ctx, req)
	dur := time.Since(start)
	if err != nil {
		e.log.Error("vision.extract.call_failed", "path", path, "error", err, "elapsed_ms", dur.Milliseconds())
		return nil, dur, classifyError(err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, dur, extract.Failure(e.Name(), fmt.Errorf("empty response"))
	}

	ann := resp.GetResponses()[0]
	if msg := ann.GetError().GetMessage(); msg != "" {
		e.log.Error("vision.extract.api_error", "path", path, "error", msg, "elapsed_ms", dur.Milliseconds())
		return nil, dur, extract.Failure(e.Name(), fmt.Errorf("vision api error: %s", msg))
	}

	dets := detectionsFromAnnotation(ann.GetFullTextAnnotation())
	e.log.Debug("vision.extract.ok",
		"path", path,
		"image_bytes", len(content),
		"response_bytes", proto.Size(resp),
		"detections", len(dets),
		"elapsed_ms", dur.Milliseconds(),
	)
	return dets, dur, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
