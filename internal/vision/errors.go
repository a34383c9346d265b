package vision

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// classifyError maps a failed annotate call to an engine error.
func classifyError(err error) error {
	msg := err.Error()
	detail := extract.Truncate(msg, extract.MaxDiagnosticLen)

	s, ok := status.FromError(err)
	if !ok {
		return extract.Failure(string(constants.EngineVision), err)
	}
	switch s.Code() {
	case codes.PermissionDenied:
		if strings.Contains(strings.ToLower(msg), "billing") {
			return common.EngineBillingError(
				"Google Cloud Vision API requires billing to be enabled. " +
					"Enable billing in the GCP project (the first 1,000 requests per month are free). " +
					"Error details: " + detail)
		}
		return common.EngineError("permission denied, check GCP credentials and API permissions: " + detail)
	case codes.InvalidArgument:
		return common.EngineError("invalid argument: " + detail)
	default:
		return common.EngineError("Google Vision API call failed: " + detail)
	}
}
