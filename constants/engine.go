package constants

// Engine identifies an extraction engine on the wire.
type Engine string

// Stable values (clients send these exact strings).
const (
	EngineTesseract Engine = "tesseract" // local model, default
	EngineVision    Engine = "gcv"       // Google Cloud Vision
)

// DefaultEngine is used when a request does not name one.
const DefaultEngine = EngineTesseract

// SupportedEngines lists every engine a request may select.
var SupportedEngines = []Engine{EngineTesseract, EngineVision}

// IsSupportedEngine reports whether name is one of SupportedEngines.
func IsSupportedEngine(name string) bool {
	for _, e := range SupportedEngines {
		if string(e) == name {
			return true
		}
	}
	return false
}

// EngineNames returns SupportedEngines as plain strings.
func EngineNames() []string {
	out := make([]string, 0, len(SupportedEngines))
	for _, e := range SupportedEngines {
		out = append(out, string(e))
	}
	return out
}

// BlockTypeParagraph is the only block type emitted; layout classification is not implemented.
const BlockTypeParagraph = "paragraph"

// CurrentPage is the page number attached to blocks; only single-page images are processed.
const CurrentPage = 1
