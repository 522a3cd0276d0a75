package ocr

// PageSegMode mirrors tesseract's --psm values that are useful for game UI text
type PageSegMode int

const (
	PSMAuto        PageSegMode = 3
	PSMSingleCol   PageSegMode = 4
	PSMSingleBlock PageSegMode = 6
	PSMSingleLine  PageSegMode = 7
	PSMSingleWord  PageSegMode = 8
	PSMSparseText  PageSegMode = 11
	PSMRawLine     PageSegMode = 13
)

// EngineMode mirrors tesseract's --oem values
type EngineMode int

const (
	OEMLegacy   EngineMode = 0
	OEMLSTM     EngineMode = 1
	OEMCombined EngineMode = 2
	OEMDefault  EngineMode = 3
)

// Config is one recognizer configuration tried by the extractor
type Config struct {
	Name string
	PSM  PageSegMode
	OEM  EngineMode
}

// ScoreKind selects the plausibility heuristic for a profile
type ScoreKind int

const (
	ScoreTime ScoreKind = iota
	ScoreGeneral
)

// Preprocess controls how a crop is prepared before recognition
type Preprocess struct {
	Scale     uint  // upscale factor, 0 or 1 disables
	Threshold uint8 // binarization threshold, 0 disables
	Invert    bool  // light text on dark background
	Padding   int   // white border in pixels
}

// Profile narrows recognition for one kind of screen text
type Profile struct {
	Name       string
	Whitelist  string
	Language   string
	Configs    []Config
	Kind       ScoreKind
	Keywords   []string // boost for general-text scoring
	Preprocess Preprocess
}

const timeWhitelist = "0123456789:"

// TimeProfile reads HH:MM:SS countdowns such as march durations
func TimeProfile() Profile {
	return Profile{
		Name:      "time",
		Whitelist: timeWhitelist,
		Language:  "eng",
		Kind:      ScoreTime,
		Configs: []Config{
			{Name: "line-lstm", PSM: PSMSingleLine, OEM: OEMLSTM},
			{Name: "word-lstm", PSM: PSMSingleWord, OEM: OEMLSTM},
			{Name: "rawline-default", PSM: PSMRawLine, OEM: OEMDefault},
			{Name: "block-default", PSM: PSMSingleBlock, OEM: OEMDefault},
		},
		Preprocess: Preprocess{Scale: 4, Threshold: 180, Invert: true, Padding: 20},
	}
}

// QueuePanelProfile reads the march queue panel ("March Queue N" / status)
func QueuePanelProfile() Profile {
	return Profile{
		Name:     "queue-panel",
		Language: "eng",
		Kind:     ScoreGeneral,
		Keywords: []string{"queue", "idle", "gathering", "returning", "unlock"},
		Configs: []Config{
			{Name: "block-lstm", PSM: PSMSingleBlock, OEM: OEMLSTM},
			{Name: "column-lstm", PSM: PSMSingleCol, OEM: OEMLSTM},
			{Name: "sparse-default", PSM: PSMSparseText, OEM: OEMDefault},
			{Name: "auto-default", PSM: PSMAuto, OEM: OEMDefault},
		},
		Preprocess: Preprocess{Scale: 3, Threshold: 160, Invert: true, Padding: 16},
	}
}
