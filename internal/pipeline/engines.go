package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
	"github.com/joseph-ayodele/ocr-service/internal/ocr"
	"github.com/joseph-ayodele/ocr-service/internal/vision"
)

// NewRegistryFromConfig registers the local engine, and the remote engine when
// a project and credentials are present. Nothing is constructed until first use.
func NewRegistryFromConfig(cfg *common.Config, logger *slog.Logger) *Registry {
	reg := NewRegistry(logger)

	tc := cfg.Tesseract
	reg.Register(string(constants.EngineTesseract), func(context.Context) (extract.Engine, error) {
		return ocr.NewEngine(ocr.Config{
			Backend:           tc.Backend,
			Tesseract:         tc.Binary,
			Lang:              tc.Lang,
			DetectOrientation: tc.DetectOrientation,
			Level:             tc.Level,
			TessdataDir:       tc.TessdataDir,
			HeicConverter:     tc.HeicConverter,
		}, logger)
	})

	if cfg.VisionConfigured() {
		vc := cfg.Vision
		reg.Register(string(constants.EngineVision), func(ctx context.Context) (extract.Engine, error) {
			// the client outlives the request that first needs it
			return vision.NewEngine(context.WithoutCancel(ctx), vision.Config{
				CredentialsJSON: vc.CredentialsJSON,
				Project:         vc.Project,
			}, logger)
		})
	} else {
		logger.Info("pipeline.engine.skipped", "engine", constants.EngineVision, "reason", "GCP_PROJECT and GCP_CREDENTIALS_JSON must both be set")
	}
	return reg
}
